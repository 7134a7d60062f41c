package lorawan

import (
	"encoding/hex"
	"strings"

	"github.com/juju/errors"
)

type EUI64 [8]byte
type AES128Key [16]byte

func (e EUI64) String() string     { return strings.ToUpper(hex.EncodeToString(e[:])) }
func (k AES128Key) String() string { return "<secret>" }

func (e EUI64) IsZero() bool { return e == EUI64{} }

func ParseEUI64(s string) (EUI64, error) {
	var e EUI64
	err := parseHexFixed(e[:], s)
	return e, errors.Annotatef(err, "EUI64=%s", s)
}

func ParseAES128Key(s string) (AES128Key, error) {
	var k AES128Key
	err := parseHexFixed(k[:], s)
	return k, errors.Annotate(err, "AES128 key")
}

func parseHexFixed(dst []byte, s string) error {
	s = strings.NewReplacer(" ", "", ":", "", "-", "").Replace(s)
	b, err := hex.DecodeString(s)
	if err != nil {
		return errors.NotValidf("hex")
	}
	if len(b) != len(dst) {
		return errors.NotValidf("length=%d expected=%d", len(b), len(dst))
	}
	copy(dst, b)
	return nil
}

// Credentials for over-the-air activation.
type Credentials struct {
	DevEUI       EUI64
	AppEUI       EUI64
	AppKey       AES128Key
	JoinAttempts uint8
}

func (c *Credentials) Validate() error {
	if c.DevEUI.IsZero() {
		return errors.NotValidf("dev_eui=zero")
	}
	if c.AppKey == (AES128Key{}) {
		return errors.NotValidf("app_key=zero")
	}
	if c.JoinAttempts == 0 {
		return errors.NotValidf("join_attempts=0")
	}
	return nil
}
