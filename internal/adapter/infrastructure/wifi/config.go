package wifi

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"

	"golang-wifiprov/internal/types"

	"golang.org/x/crypto/pbkdf2"
)

const (
	pskIterations = 4096
	pskLen        = 32
)

// DerivePSK derives the 256-bit WPA pre-shared key from a passphrase as
// defined by IEEE 802.11i. A 64 character hex string is taken as the raw key.
func DerivePSK(ssid, passphrase string) string {
	if len(passphrase) == 2*pskLen {
		if _, err := hex.DecodeString(passphrase); err == nil {
			return strings.ToLower(passphrase)
		}
	}
	key := pbkdf2.Key([]byte(passphrase), []byte(ssid), pskIterations, pskLen, sha1.New)
	return hex.EncodeToString(key)
}

// renderHostapd renders the hostapd configuration for an access point.
// The SSID is written in hex so that any byte sequence is accepted.
func renderHostapd(iface string, ap types.APConfig) []byte {
	var b strings.Builder
	b.WriteString("# Generated by wifiprov\n")
	fmt.Fprintf(&b, "interface=%s\n", iface)
	b.WriteString("driver=nl80211\n")
	fmt.Fprintf(&b, "ssid2=%s\n", hex.EncodeToString([]byte(ap.SSID)))
	b.WriteString("hw_mode=g\n")
	fmt.Fprintf(&b, "channel=%d\n", ap.Channel)
	fmt.Fprintf(&b, "max_num_sta=%d\n", ap.MaxClients)
	b.WriteString("auth_algs=1\n")
	b.WriteString("ignore_broadcast_ssid=0\n")
	if ap.Passphrase != "" {
		b.WriteString("wpa=2\n")
		b.WriteString("wpa_key_mgmt=WPA-PSK\n")
		b.WriteString("rsn_pairwise=CCMP\n")
		fmt.Fprintf(&b, "wpa_psk=%s\n", DerivePSK(ap.SSID, ap.Passphrase))
	}
	return []byte(b.String())
}

// renderSupplicant renders the wpa_supplicant configuration for one network.
func renderSupplicant(ctrlDir string, sta types.StationConfig) []byte {
	var b strings.Builder
	b.WriteString("# Generated by wifiprov\n")
	fmt.Fprintf(&b, "ctrl_interface=%s\n", ctrlDir)
	b.WriteString("update_config=0\n")
	b.WriteString("network={\n")
	fmt.Fprintf(&b, "\tssid=%s\n", hex.EncodeToString([]byte(sta.SSID)))
	b.WriteString("\tscan_ssid=1\n")
	if sta.Passphrase == "" {
		b.WriteString("\tkey_mgmt=NONE\n")
	} else {
		b.WriteString("\tkey_mgmt=WPA-PSK\n")
		fmt.Fprintf(&b, "\tpsk=%s\n", DerivePSK(sta.SSID, sta.Passphrase))
	}
	b.WriteString("}\n")
	return []byte(b.String())
}
