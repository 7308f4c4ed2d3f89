package main

import "github.com/baobabted/AI-Coding-Tutor/internal/cmd"

func main() {
	cmd.Execute()
}
