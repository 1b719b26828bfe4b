package classify

import (
	"bytes"
	"io"
	"net/http"
	"os"
)

// Sniffer reports a human-readable type description for a file, in the
// style of file(1). A description containing "executable" marks binaries.
type Sniffer interface {
	Sniff(path string) (string, error)
}

// NopSniffer is used when type sniffing is unavailable. It never reports a
// type, so the extension-mismatch heuristic only fires for the MZ check.
type NopSniffer struct{}

func (NopSniffer) Sniff(string) (string, error) { return "", nil }

type magic struct {
	sig  []byte
	desc string
}

var knownMagic = []magic{
	{[]byte("MZ"), "application/x-dosexec executable"},
	{[]byte{0x7f, 'E', 'L', 'F'}, "application/x-executable ELF executable"},
	{[]byte{0xfe, 0xed, 0xfa, 0xce}, "application/x-mach-binary Mach-O executable"},
	{[]byte{0xfe, 0xed, 0xfa, 0xcf}, "application/x-mach-binary Mach-O 64-bit executable"},
	{[]byte{0xce, 0xfa, 0xed, 0xfe}, "application/x-mach-binary Mach-O executable"},
	{[]byte{0xcf, 0xfa, 0xed, 0xfe}, "application/x-mach-binary Mach-O 64-bit executable"},
	{[]byte{0xca, 0xfe, 0xba, 0xbe}, "application/x-mach-binary Mach-O universal executable"},
}

// MagicSniffer identifies executables by magic bytes and falls back to
// content-type detection for everything else.
type MagicSniffer struct{}

func (MagicSniffer) Sniff(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	header := make([]byte, 512)
	n, err := io.ReadFull(f, header)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", err
	}
	return SniffBytes(header[:n]), nil
}

// SniffBytes describes content from its leading bytes.
func SniffBytes(header []byte) string {
	for _, m := range knownMagic {
		if bytes.HasPrefix(header, m.sig) {
			return m.desc
		}
	}
	if len(header) == 0 {
		return "empty"
	}
	return http.DetectContentType(header)
}
