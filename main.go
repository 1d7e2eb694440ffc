package main

import "github.com/wentf9/sftpq/cmd"

func main() {
	cmd.Execute()
}
