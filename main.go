package main

import "github.com/webcheckup/webcheckup/cmd"

var execCmd = cmd.Execute

func main() {
	execCmd()
}
