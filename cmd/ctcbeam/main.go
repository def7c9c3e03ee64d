package main

import "github.com/MeKo-Tech/ctcbeam/cmd/ctcbeam/cmd"

func main() {
	cmd.Execute()
}
