package main

import "github.com/docsage/docsage/cmd"

func main() {
	cmd.Execute()
}
