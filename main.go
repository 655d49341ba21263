package main

import "gesture-bridge/cmd"

func main() {
	cmd.Execute()
}
