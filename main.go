package main

import "github.com/autome/transcriber/cmd"

func main() {
	cmd.Execute()
}
