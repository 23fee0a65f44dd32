package dbus

// Signature is a D-Bus type signature string, e.g. "s", "a{sv}",
// "(ious)". The core treats signatures as opaque strings: it is the
// Value Codec's job to derive a Go value's signature and to marshal
// a value according to one; this package only needs to carry
// signatures through header fields and message framing.
type Signature string

// IsZero reports whether s describes no value at all (an empty
// signature, as carried by a message with no body).
func (s Signature) IsZero() bool { return s == "" }

func (s Signature) String() string { return string(s) }

// asMsgBody adapts a body value's signature to the form stored in a
// message's Signature header field: if the signature is a single
// top-level STRUCT, the outer parens are stripped, per D-Bus
// convention (a message body is always "the fields of a struct", so
// the struct markers around the whole body are redundant).
func (s Signature) asMsgBody() Signature {
	if len(s) >= 2 && s[0] == '(' && s[len(s)-1] == ')' && parenMatchesEnd(string(s)) {
		return s[1 : len(s)-1]
	}
	return s
}

// parenMatchesEnd reports whether the '(' at sig[0] is closed by the
// ')' at the end of sig, i.e. whether sig is a single top-level
// struct signature rather than e.g. "(i)(i)".
func parenMatchesEnd(sig string) bool {
	depth := 0
	for i, c := range sig {
		switch c {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i == len(sig)-1
			}
		}
	}
	return false
}

// wrapStructSig wraps a non-empty sig in parens, so that it reads as
// a single STRUCT signature; an empty sig is returned unchanged. It
// wraps every non-empty sig, including one that is already a single
// complete type. It undoes [Signature.asMsgBody].
func wrapStructSig(sig Signature) Signature {
	if sig.IsZero() {
		return sig
	}
	return "(" + sig + ")"
}

// validateSignature does a shallow syntax check of sig: balanced
// parens and braces, and only known type codes. It does not fully
// validate dict-entry placement or array element completeness; deep
// structural validation of body signatures is the Value Codec's
// responsibility.
func validateSignature(sig string) error {
	depthStruct, depthDict := 0, 0
	for i := 0; i < len(sig); i++ {
		switch c := sig[i]; c {
		case 'y', 'b', 'n', 'q', 'i', 'u', 'x', 't', 'd', 's', 'o', 'g', 'h', 'v', 'a':
			// valid type codes.
		case '(':
			depthStruct++
		case ')':
			depthStruct--
			if depthStruct < 0 {
				return invalidFieldErrf("signature %q has unbalanced ')'", sig)
			}
		case '{':
			depthDict++
		case '}':
			depthDict--
			if depthDict < 0 {
				return invalidFieldErrf("signature %q has unbalanced '}'", sig)
			}
		default:
			return invalidFieldErrf("signature %q contains invalid type code %q", sig, string(c))
		}
	}
	if depthStruct != 0 {
		return invalidFieldErrf("signature %q has unbalanced parens", sig)
	}
	if depthDict != 0 {
		return invalidFieldErrf("signature %q has unbalanced dict braces", sig)
	}
	return nil
}
