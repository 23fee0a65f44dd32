package dbus

import "testing"

func TestObjectPathIsValid(t *testing.T) {
	valid := []ObjectPath{
		"/",
		"/org/freedesktop/DBus",
		"/a",
		"/a_1/B_2",
	}
	for _, p := range valid {
		if !p.IsValid() {
			t.Errorf("%q.IsValid() = false, want true", p)
		}
	}

	invalid := []ObjectPath{
		"",
		"org/freedesktop/DBus",
		"/org/freedesktop/",
		"/org//freedesktop",
		"/org/free-desktop",
		"/org/free.desktop",
		"//",
	}
	for _, p := range invalid {
		if p.IsValid() {
			t.Errorf("%q.IsValid() = true, want false", p)
		}
	}
}
