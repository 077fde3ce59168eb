// Package main implements the netcap CLI.
package main

func main() {
	Execute()
}
