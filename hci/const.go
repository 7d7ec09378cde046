// Package hci speaks the Bluetooth management protocol to the kernel's HCI
// control socket. It is used to configure the local controller (power, LE,
// advertising, names) and to observe asynchronous controller events.
//
// The protocol is documented in the BlueZ tree:
//
//	https://git.kernel.org/pub/scm/bluetooth/bluez.git/tree/doc/mgmt-api.txt
package hci

import "strings"

// Management command codes used by the adapter.
const (
	cmdReadVersion          = 0x0001
	cmdReadControllerInfo   = 0x0004
	cmdSetPowered           = 0x0005
	cmdSetDiscoverable      = 0x0006
	cmdSetConnectable       = 0x0007
	cmdSetBondable          = 0x0009
	cmdSetLowEnergy         = 0x000D
	cmdSetLocalName         = 0x000F
	cmdSetAdvertising       = 0x0029
	cmdSetBredr             = 0x002A
	cmdSetSecureConnections = 0x002D
)

// Management event codes consumed by the event loop.
const (
	evtCommandComplete    = 0x0001
	evtCommandStatus      = 0x0002
	evtNewSettings        = 0x0006
	evtDeviceConnected    = 0x000B
	evtDeviceDisconnected = 0x000C
)

// Valid code ranges; anything outside is a protocol decode error.
const (
	minCommandCode = 0x0001
	maxCommandCode = 0x0043
	minEventCode   = 0x0001
	maxEventCode   = 0x0025
)

// Controller settings bits, as carried in the supported/current settings
// masks.
const (
	SettingPowered         = 1 << 0
	SettingConnectable     = 1 << 1
	SettingFastConnectable = 1 << 2
	SettingDiscoverable    = 1 << 3
	SettingBondable        = 1 << 4
	SettingLinkSecurity    = 1 << 5
	SettingSSP             = 1 << 6
	SettingBredr           = 1 << 7
	SettingHighSpeed       = 1 << 8
	SettingLowEnergy       = 1 << 9
	SettingAdvertising     = 1 << 10
	SettingSecureConn      = 1 << 11
	SettingDebugKeys       = 1 << 12
	SettingPrivacy         = 1 << 13
	SettingConfiguration   = 1 << 14
	SettingStaticAddress   = 1 << 15
)

// The controller index wildcard for commands that do not address a
// controller.
const NonController = 0xffff

var commandNames = [maxCommandCode]string{
	"Read Management Version Information Command",       // 0x0001
	"Read Management Supported Commands Command",        // 0x0002
	"Read Controller Index List Command",                // 0x0003
	"Read Controller Information Command",               // 0x0004
	"Set Powered Command",                               // 0x0005
	"Set Discoverable Command",                          // 0x0006
	"Set Connectable Command",                           // 0x0007
	"Set Fast Connectable Command",                      // 0x0008
	"Set Bondable Command",                              // 0x0009
	"Set Link Security Command",                         // 0x000A
	"Set Secure Simple Pairing Command",                 // 0x000B
	"Set High Speed Command",                            // 0x000C
	"Set Low Energy Command",                            // 0x000D
	"Set Device Class",                                  // 0x000E
	"Set Local Name Command",                            // 0x000F
	"Add UUID Command",                                  // 0x0010
	"Remove UUID Command",                               // 0x0011
	"Load Link Keys Command",                            // 0x0012
	"Load Long Term Keys Command",                       // 0x0013
	"Disconnect Command",                                // 0x0014
	"Get Connections Command",                           // 0x0015
	"PIN Code Reply Command",                            // 0x0016
	"PIN Code Negative Reply Command",                   // 0x0017
	"Set IO Capability Command",                         // 0x0018
	"Pair Device Command",                               // 0x0019
	"Cancel Pair Device Command",                        // 0x001A
	"Unpair Device Command",                             // 0x001B
	"User Confirmation Reply Command",                   // 0x001C
	"User Confirmation Negative Reply Command",          // 0x001D
	"User Passkey Reply Command",                        // 0x001E
	"User Passkey Negative Reply Command",               // 0x001F
	"Read Local Out Of Band Data Command",               // 0x0020
	"Add Remote Out Of Band Data Command",               // 0x0021
	"Remove Remote Out Of Band Data Command",            // 0x0022
	"Start Discovery Command",                           // 0x0023
	"Stop Discovery Command",                            // 0x0024
	"Confirm Name Command",                              // 0x0025
	"Block Device Command",                              // 0x0026
	"Unblock Device Command",                            // 0x0027
	"Set Device ID Command",                             // 0x0028
	"Set Advertising Command",                           // 0x0029
	"Set BR/EDR Command",                                // 0x002A
	"Set Static Address Command",                        // 0x002B
	"Set Scan Parameters Command",                       // 0x002C
	"Set Secure Connections Command",                    // 0x002D
	"Set Debug Keys Command",                            // 0x002E
	"Set Privacy Command",                               // 0x002F
	"Load Identity Resolving Keys Command",              // 0x0030
	"Get Connection Information Command",                // 0x0031
	"Get Clock Information Command",                     // 0x0032
	"Add Device Command",                                // 0x0033
	"Remove Device Command",                             // 0x0034
	"Load Connection Parameters Command",                // 0x0035
	"Read Unconfigured Controller Index List Command",   // 0x0036
	"Read Controller Configuration Information Command", // 0x0037
	"Set External Configuration Command",                // 0x0038
	"Set Public Address Command",                        // 0x0039
	"Start Service Discovery Command",                   // 0x003A
	"Read Local Out Of Band Extended Data Command",      // 0x003B
	"Read Extended Controller Index List Command",       // 0x003C
	"Read Advertising Features Command",                 // 0x003D
	"Add Advertising Command",                           // 0x003E
	"Remove Advertising Command",                        // 0x003F
	"Get Advertising Size Information Command",          // 0x0040
	"Start Limited Discovery Command",                   // 0x0041
	"Read Extended Controller Information Command",      // 0x0042
	"Set Appearance Command",                            // 0x0043
}

var eventNames = [maxEventCode]string{
	"Command Complete Event",                        // 0x0001
	"Command Status Event",                          // 0x0002
	"Controller Error Event",                        // 0x0003
	"Index Added Event",                             // 0x0004
	"Index Removed Event",                           // 0x0005
	"New Settings Event",                            // 0x0006
	"Class Of Device Changed Event",                 // 0x0007
	"Local Name Changed Event",                      // 0x0008
	"New Link Key Event",                            // 0x0009
	"New Long Term Key Event",                       // 0x000A
	"Device Connected Event",                        // 0x000B
	"Device Disconnected Event",                     // 0x000C
	"Connect Failed Event",                          // 0x000D
	"PIN Code Request Event",                        // 0x000E
	"User Confirmation Request Event",               // 0x000F
	"User Passkey Request Event",                    // 0x0010
	"Authentication Failed Event",                   // 0x0011
	"Device Found Event",                            // 0x0012
	"Discovering Event",                             // 0x0013
	"Device Blocked Event",                          // 0x0014
	"Device Unblocked Event",                        // 0x0015
	"Device Unpaired Event",                         // 0x0016
	"Passkey Notify Event",                          // 0x0017
	"New Identity Resolving Key Event",              // 0x0018
	"New Signature Resolving Key Event",             // 0x0019
	"Device Added Event",                            // 0x001A
	"Device Removed Event",                          // 0x001B
	"New Connection Parameter Event",                // 0x001C
	"Unconfigured Index Added Event",                // 0x001D
	"Unconfigured Index Removed Event",              // 0x001E
	"New Configuration Options Event",               // 0x001F
	"Extended Index Added Event",                    // 0x0020
	"Extended Index Removed Event",                  // 0x0021
	"Local Out Of Band Extended Data Updated Event", // 0x0022
	"Advertising Added Event",                       // 0x0023
	"Advertising Removed Event",                     // 0x0024
	"Extended Controller Information Changed Event", // 0x0025
}

// CommandName maps a management command code to its name; codes outside the
// known range render as "Unknown".
func CommandName(code uint16) string {
	if code < minCommandCode || code > maxCommandCode {
		return "Unknown"
	}
	return commandNames[code-minCommandCode]
}

// EventName maps a management event code to its name; codes outside the
// known range render as "Unknown".
func EventName(code uint16) string {
	if code < minEventCode || code > maxEventCode {
		return "Unknown"
	}
	return eventNames[code-minEventCode]
}

// SettingsString renders a settings mask as a human-readable list of flags.
func SettingsString(bits uint32) string {
	flags := []struct {
		bit  uint32
		name string
	}{
		{SettingPowered, "Powered"},
		{SettingConnectable, "Connectable"},
		{SettingFastConnectable, "FC"},
		{SettingDiscoverable, "Discov"},
		{SettingBondable, "Bondable"},
		{SettingLinkSecurity, "LLS"},
		{SettingSSP, "SSP"},
		{SettingBredr, "BR/EDR"},
		{SettingHighSpeed, "HS"},
		{SettingLowEnergy, "LE"},
		{SettingAdvertising, "Adv"},
		{SettingSecureConn, "SC"},
		{SettingDebugKeys, "DebugKeys"},
		{SettingPrivacy, "Privacy"},
		{SettingConfiguration, "ControllerConfig"},
		{SettingStaticAddress, "StaticAddr"},
	}

	var names []string
	for _, f := range flags {
		if bits&f.bit != 0 {
			names = append(names, f.name)
		}
	}
	return strings.Join(names, ", ")
}
