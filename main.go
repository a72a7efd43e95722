package main

import "shardpipe/cmd"

func main() {
	cmd.Execute()
}
