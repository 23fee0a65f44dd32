package dbus

import (
	"os"
	"strconv"
	"strings"
)

// UnixSocketKind distinguishes the ways a unix: transport address can
// name a socket.
type UnixSocketKind int

const (
	// UnixFile names a socket by filesystem path.
	UnixFile UnixSocketKind = iota
	// UnixAbstract names a socket in the Linux abstract namespace.
	UnixAbstract
	// UnixDir names a directory in which an anonymous socket should
	// be created. Only meaningful for servers; rejected by
	// [Dial].
	UnixDir
	// UnixTmpDir is like UnixDir, but the directory is understood to
	// be on a filesystem that supports the abstract namespace as
	// well. Only meaningful for servers; rejected by [Dial].
	UnixTmpDir
)

func (k UnixSocketKind) String() string {
	switch k {
	case UnixFile:
		return "path"
	case UnixAbstract:
		return "abstract"
	case UnixDir:
		return "dir"
	case UnixTmpDir:
		return "tmpdir"
	default:
		return "unknown"
	}
}

// UnixSocket identifies a unix domain socket named by a D-Bus
// address. Only [UnixFile] and [UnixAbstract] can be dialed; the
// other two kinds exist to represent server-only addresses parsed
// from the wild, and fail to connect with [UnsupportedError].
type UnixSocket struct {
	Kind UnixSocketKind
	// Name is the socket path, for [UnixFile], [UnixDir] and
	// [UnixTmpDir], or the abstract socket name for [UnixAbstract].
	Name string
}

// TransportKind distinguishes the kinds of transport a D-Bus address
// can describe.
type TransportKind int

const (
	// TransportUnix is a unix domain socket transport.
	TransportUnix TransportKind = iota
	// TransportTCP is a TCP/IP transport. Parsing tcp: and
	// nonce-tcp: addresses is supported so that addresses containing
	// them can be inspected, but [Dial] always fails to
	// connect one with [UnsupportedError]: this client only
	// implements the unix transport.
	TransportTCP
)

// TCPSocket holds the parsed parameters of a tcp: or nonce-tcp:
// address. See [TransportTCP].
type TCPSocket struct {
	Host      string
	Port      string
	Family    string // "", "ipv4", or "ipv6"
	NonceFile string // non-empty for nonce-tcp:
}

// Transport is the parsed transport portion of a D-Bus [Address].
type Transport struct {
	Kind TransportKind
	Unix UnixSocket
	TCP  TCPSocket
}

// Address is a parsed D-Bus server address, as described by
// https://dbus.freedesktop.org/doc/dbus-specification.html#addresses.
type Address struct {
	Transport Transport
	// GUID is the server GUID advertised by the address, as 32
	// lowercase hex characters, or the empty string if the address
	// did not include one.
	GUID string
}

const unreservedAddrChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789_/.\\*-"

func isHexDigit(b byte) bool {
	return (b >= '0' && b <= '9') || (b >= 'a' && b <= 'f') || (b >= 'A' && b <= 'F')
}

func hexVal(b byte) byte {
	switch {
	case b >= '0' && b <= '9':
		return b - '0'
	case b >= 'a' && b <= 'f':
		return b - 'a' + 10
	default:
		return b - 'A' + 10
	}
}

// percentDecode reverses the percent-encoding rules of the D-Bus
// address grammar: unreserved characters pass through unescaped,
// and any other byte must appear as a %HH escape.
func percentDecode(s string) (string, error) {
	var out strings.Builder
	out.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '%' {
			if i+2 >= len(s) || !isHexDigit(s[i+1]) || !isHexDigit(s[i+2]) {
				return "", addressErrf("invalid %%HH escape in address value %q", s)
			}
			out.WriteByte(hexVal(s[i+1])<<4 | hexVal(s[i+2]))
			i += 2
			continue
		}
		if !strings.ContainsRune(unreservedAddrChars, rune(c)) {
			return "", addressErrf("unescaped reserved character %q in address value %q", c, s)
		}
		out.WriteByte(c)
	}
	return out.String(), nil
}

func isGUID(s string) bool {
	if len(s) != 32 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if c := s[i]; !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}
	return true
}

// ParseAddress parses a single D-Bus server address of the form
// "transport:k1=v1,k2=v2,...".
//
// Multiple semicolon-separated addresses, as D-Bus environment
// variables may carry, are not handled here: split on ';' and try
// each address with ParseAddress in turn, as [SessionAddress] and
// [SystemAddress] do.
func ParseAddress(s string) (Address, error) {
	col := strings.IndexByte(s, ':')
	if col < 0 {
		return Address{}, addressErrf("address %q has no colon separating transport from parameters", s)
	}
	transportName, rest := s[:col], s[col+1:]

	kvs := map[string]string{}
	if rest != "" {
		for _, kv := range strings.Split(rest, ",") {
			eq := strings.IndexByte(kv, '=')
			if eq < 0 {
				return Address{}, addressErrf("address parameter %q is missing '='", kv)
			}
			k, rawV := kv[:eq], kv[eq+1:]
			if _, dup := kvs[k]; dup {
				return Address{}, addressErrf("address key %q specified more than once", k)
			}
			v, err := percentDecode(rawV)
			if err != nil {
				return Address{}, err
			}
			kvs[k] = v
		}
	}

	var guid string
	if g, ok := kvs["guid"]; ok {
		if !isGUID(g) {
			return Address{}, addressErrf("guid %q is not 32 lowercase hex characters", g)
		}
		guid = g
		delete(kvs, "guid")
	}

	transport, err := parseTransport(transportName, kvs)
	if err != nil {
		return Address{}, err
	}

	return Address{Transport: transport, GUID: guid}, nil
}

func parseTransport(name string, kvs map[string]string) (Transport, error) {
	switch name {
	case "unix":
		return parseUnixTransport(kvs)
	case "tcp", "nonce-tcp":
		return parseTCPTransport(name, kvs)
	default:
		return Transport{}, addressErrf("unsupported transport %q", name)
	}
}

func parseUnixTransport(kvs map[string]string) (Transport, error) {
	var (
		kind  UnixSocketKind
		name  string
		found int
	)
	for k, kind2 := range map[string]UnixSocketKind{
		"path":    UnixFile,
		"abstract": UnixAbstract,
		"dir":     UnixDir,
		"tmpdir":  UnixTmpDir,
	} {
		if v, ok := kvs[k]; ok {
			kind, name = kind2, v
			found++
		}
	}
	if found == 0 {
		return Transport{}, addressErrf("unix address must set exactly one of path=, abstract=, dir=, tmpdir=")
	}
	if found > 1 {
		return Transport{}, addressErrf("unix address sets more than one of path=, abstract=, dir=, tmpdir=")
	}
	return Transport{Kind: TransportUnix, Unix: UnixSocket{Kind: kind, Name: name}}, nil
}

func parseTCPTransport(name string, kvs map[string]string) (Transport, error) {
	t := TCPSocket{
		Host:   kvs["host"],
		Port:   kvs["port"],
		Family: kvs["family"],
	}
	if name == "nonce-tcp" {
		t.NonceFile = kvs["noncefile"]
	}
	if t.Family != "" && t.Family != "ipv4" && t.Family != "ipv6" {
		return Transport{}, addressErrf("tcp address has unsupported family %q", t.Family)
	}
	return Transport{Kind: TransportTCP, TCP: t}, nil
}

// SessionAddress returns the address of the caller's session bus.
//
// If DBUS_SESSION_BUS_ADDRESS is set, the first usable address in
// it is parsed and returned. Otherwise, it falls back to
// unix:path=$XDG_RUNTIME_DIR/bus, using /run/user/<euid>/bus if
// XDG_RUNTIME_DIR is unset.
func SessionAddress() (Address, error) {
	if raw, ok := os.LookupEnv("DBUS_SESSION_BUS_ADDRESS"); ok {
		return parseFirstAddress(raw)
	}
	dir, ok := os.LookupEnv("XDG_RUNTIME_DIR")
	if !ok {
		dir = "/run/user/" + strconv.Itoa(os.Geteuid())
	}
	return ParseAddress("unix:path=" + dir + "/bus")
}

// SystemAddress returns the address of the system bus.
//
// If DBUS_SYSTEM_BUS_ADDRESS is set, the first usable address in it
// is parsed and returned. Otherwise, it falls back to
// unix:path=/var/run/dbus/system_bus_socket.
func SystemAddress() (Address, error) {
	if raw, ok := os.LookupEnv("DBUS_SYSTEM_BUS_ADDRESS"); ok {
		return parseFirstAddress(raw)
	}
	return ParseAddress("unix:path=/var/run/dbus/system_bus_socket")
}

// parseFirstAddress parses the first semicolon-separated address in
// raw that parses successfully.
func parseFirstAddress(raw string) (Address, error) {
	var firstErr error
	for _, one := range strings.Split(raw, ";") {
		addr, err := ParseAddress(one)
		if err == nil {
			return addr, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	if firstErr == nil {
		firstErr = addressErrf("empty address list")
	}
	return Address{}, firstErr
}
