package probe

import (
	"crypto/tls"
	"fmt"
	"strings"
)

var weakTLSVersions = map[uint16]string{
	tls.VersionSSL30: "SSL 3.0", //nolint:staticcheck // deliberately flagging the deprecated version
	tls.VersionTLS10: "TLS 1.0",
	tls.VersionTLS11: "TLS 1.1",
}

// WeakTLSParams flags handshake parameters that indicate a weak server
// configuration. The findings go into logs and the check command output;
// they never raise alerts on their own.
func WeakTLSParams(version, cipherSuite uint16) []string {
	var issues []string

	if name, ok := weakTLSVersions[version]; ok {
		issues = append(issues, "weak TLS version: "+name)
	}
	if issue := weakCipher(cipherSuite); issue != "" {
		issues = append(issues, issue)
	}
	return issues
}

func weakCipher(id uint16) string {
	if id == 0 {
		return ""
	}

	name := tls.CipherSuiteName(id)
	for _, cs := range tls.InsecureCipherSuites() {
		if cs.ID == id {
			return fmt.Sprintf("weak cipher: %s (%s)", name, insecureCipherReason(name))
		}
	}

	// CBC suites are absent from InsecureCipherSuites but stay exposed to
	// padding oracle attacks (BEAST, Lucky13).
	if strings.Contains(name, "CBC") {
		return fmt.Sprintf("CBC-mode cipher: %s", name)
	}
	return ""
}

func insecureCipherReason(name string) string {
	for _, marker := range []string{"RC4", "3DES", "NULL"} {
		if strings.Contains(name, marker) {
			return marker
		}
	}
	return "insecure"
}
