package validator

// maximum accepted length of submitted source code in bytes
const maxCodeSize = 1 << 16

// ValidateCodeSize ensures submitted source does not exceed the maximum
// allowable code size without buffering anything.
func ValidateCodeSize(dataLen int) bool {
	return dataLen <= maxCodeSize
}
