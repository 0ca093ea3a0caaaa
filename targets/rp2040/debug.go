//go:build rp2040

package main

import (
	"machine"

	"gotick/core"
)

var debugUART *machine.UART

// InitDebugUART routes kernel debug output to UART0 on GPIO0 (TX) and
// GPIO1 (RX) at 115200 baud. USB CDC carries the protocol, so debug text
// cannot share it. Output stays off until the host sends set_debug.
func InitDebugUART() {
	debugUART = machine.UART0
	err := debugUART.Configure(machine.UARTConfig{
		BaudRate: 115200,
		TX:       machine.GPIO0,
		RX:       machine.GPIO1,
	})
	if err != nil {
		debugUART = nil
		return
	}

	core.SetDebugWriter(func(s string) {
		debugUART.Write([]byte(s))
		debugUART.Write([]byte("\r\n"))
	})
	// Alarm paths log from the TIMER interrupt; queue instead of writing there
	core.InitAsyncDebug()
}
