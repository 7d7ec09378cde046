// Package gobbledegook provides a Bluetooth Low Energy GATT peripheral
// framework for Linux, built on BlueZ.
//
// A host application declares a tree of BLE services, characteristics, and
// descriptors and the framework exposes them to remote BLE clients through
// the system's Bluetooth stack. Three asynchronous worlds are kept in
// lockstep by one event loop: the HCI management protocol client that
// configures the local controller, the published object tree on the system
// message bus that BlueZ enumerates and dispatches into, and the
// application-facing update channel through which the host mutates values
// and fires notifications.
//
// # SETUP
//
// gobbledegook only supports Linux with BlueZ running. The process needs
// access to the HCI control socket (CAP_NET_ADMIN or root) and permission on
// the system bus to claim its owned name and talk to org.bluez; grant the
// latter with a D-Bus policy file for your service name.
//
// # USAGE
//
// Describe a server, then start it:
//
//	srv := gobbledegook.NewServer("demo", "Demo", "demo", getter, setter)
//	svc := srv.AddService("device", "180A")
//	svc.AddCharacteristic("mfgr_name", "2A29", "read").
//		HandleReadFunc(func(c *gobbledegook.Characteristic, _ map[string]dbus.Variant) ([]byte, error) {
//			return []byte("Acme Inc."), nil
//		})
//	if err := gobbledegook.Start(srv, 30*time.Second); err != nil {
//		log.Fatal(err)
//	}
//	defer gobbledegook.ShutdownAndWait()
//
// When host-side data changes, push an update so subscribed clients get a
// notification:
//
//	gobbledegook.NotifyUpdatedCharacteristic("/com/demo/battery/level")
//
// See NewSampleServer for a complete service description.
package gobbledegook
