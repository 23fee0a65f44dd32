package dbus

import (
	"os"
	"testing"
)

func TestParseAddressUnixPath(t *testing.T) {
	a, err := ParseAddress("unix:path=/run/dbus/system_bus_socket,guid=0123456789abcdef0123456789abcdef")
	if err != nil {
		t.Fatalf("ParseAddress: %v", err)
	}
	if a.Transport.Kind != TransportUnix {
		t.Errorf("Kind = %v, want TransportUnix", a.Transport.Kind)
	}
	if a.Transport.Unix.Kind != UnixFile {
		t.Errorf("Unix.Kind = %v, want UnixFile", a.Transport.Unix.Kind)
	}
	if a.Transport.Unix.Name != "/run/dbus/system_bus_socket" {
		t.Errorf("Unix.Name = %q", a.Transport.Unix.Name)
	}
	if a.GUID != "0123456789abcdef0123456789abcdef" {
		t.Errorf("GUID = %q", a.GUID)
	}
}

func TestParseAddressAbstract(t *testing.T) {
	a, err := ParseAddress("unix:abstract=/tmp/dbus-xyz")
	if err != nil {
		t.Fatalf("ParseAddress: %v", err)
	}
	if a.Transport.Unix.Kind != UnixAbstract {
		t.Errorf("Unix.Kind = %v, want UnixAbstract", a.Transport.Unix.Kind)
	}
	if a.Transport.Unix.Name != "/tmp/dbus-xyz" {
		t.Errorf("Unix.Name = %q", a.Transport.Unix.Name)
	}
}

func TestParseAddressPercentEscape(t *testing.T) {
	a, err := ParseAddress("unix:path=/tmp/has%20space")
	if err != nil {
		t.Fatalf("ParseAddress: %v", err)
	}
	if a.Transport.Unix.Name != "/tmp/has space" {
		t.Errorf("Unix.Name = %q, want %q", a.Transport.Unix.Name, "/tmp/has space")
	}
}

func TestParseAddressErrors(t *testing.T) {
	cases := []string{
		"",
		"unix",
		"nope:path=/x",
		"unix:path=/a,path=/b",
		"unix:",
		"unix:host=foo",
		"unix:path=/a,guid=short",
		"unix:path=/has space", // unescaped reserved char
		"tcp:host=localhost,port=1234,family=ipv9",
	}
	for _, c := range cases {
		if _, err := ParseAddress(c); err == nil {
			t.Errorf("ParseAddress(%q) succeeded, want error", c)
		}
	}
}

func TestParseAddressTCP(t *testing.T) {
	a, err := ParseAddress("nonce-tcp:host=localhost,port=1234,family=ipv4,noncefile=%2Ftmp%2Fnonce")
	if err != nil {
		t.Fatalf("ParseAddress: %v", err)
	}
	if a.Transport.Kind != TransportTCP {
		t.Fatalf("Kind = %v, want TransportTCP", a.Transport.Kind)
	}
	if a.Transport.TCP.NonceFile != "/tmp/nonce" {
		t.Errorf("NonceFile = %q", a.Transport.TCP.NonceFile)
	}
}

func TestParseFirstAddressFallsThrough(t *testing.T) {
	a, err := parseFirstAddress("nope:bad;unix:path=/run/dbus/system_bus_socket")
	if err != nil {
		t.Fatalf("parseFirstAddress: %v", err)
	}
	if a.Transport.Unix.Name != "/run/dbus/system_bus_socket" {
		t.Errorf("Unix.Name = %q", a.Transport.Unix.Name)
	}
}

func TestSessionAddressFallback(t *testing.T) {
	if old, ok := os.LookupEnv("DBUS_SESSION_BUS_ADDRESS"); ok {
		os.Unsetenv("DBUS_SESSION_BUS_ADDRESS")
		t.Cleanup(func() { os.Setenv("DBUS_SESSION_BUS_ADDRESS", old) })
	}
	t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")
	a, err := SessionAddress()
	if err != nil {
		t.Fatalf("SessionAddress: %v", err)
	}
	if a.Transport.Unix.Name != "/run/user/1000/bus" {
		t.Errorf("Unix.Name = %q", a.Transport.Unix.Name)
	}
}
