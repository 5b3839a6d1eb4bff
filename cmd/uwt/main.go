// Command uwt transfers single files over WIRE UART bridge links.
package main

func main() {
	Execute()
}
