package main

import "github.com/sunbk201/rulegate/cmd"

func main() {
	cmd.Execute()
}
