package main

import "github.com/nandasafiqal/access-grant-management/cmd"

func main() {
	cmd.Execute()
}
