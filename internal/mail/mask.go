package mail

import "strings"

// MaskAddress keeps the first character of the local part and the domain:
// "dest@example.com" -> "d***@example.com".
func MaskAddress(addr string) string {
	at := strings.LastIndex(addr, "@")
	if at <= 0 {
		return "***"
	}
	return addr[:1] + "***" + addr[at:]
}
