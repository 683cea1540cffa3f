package main

import "github.com/ferryipc/ferry/cmd"

func main() {
	cmd.Execute()
}
