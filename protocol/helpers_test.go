package protocol

import "bytes"

func bytesBuffer() *bytes.Buffer {
	return bytes.NewBuffer(make([]byte, 0, MessageLengthMax))
}
