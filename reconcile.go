package gobbledegook

import "github.com/rivermoonlight/gobbledegook/hci"

// reconcileAdapter compares the controller's current settings to the
// server's desired configuration and, where they differ, walks the
// configuration sequence:
//
//	power off, enable LE, BR/EDR, secure connections, bondable,
//	connectable, advertising, names, power on.
//
// The order matters: enabling BR/EDR is rejected while LE is off, and
// several bits can only be changed while powered down. LE is always desired
// on; the framework is GATT-only. The first failure aborts the sequence and
// is returned to the caller.
func reconcileAdapter(ctrl Controller, srv *Server) error {
	name := hci.TruncateName(srv.AdvertisingName())
	shortName := hci.TruncateShortName(srv.AdvertisingShortName())

	info := ctrl.ControllerInfo()
	current := info.CurrentSettings

	pwFlag := current&hci.SettingPowered != 0
	leFlag := current&hci.SettingLowEnergy != 0
	brFlag := (current&hci.SettingBredr != 0) == srv.EnableBREDR()
	scFlag := (current&hci.SettingSecureConn != 0) == srv.EnableSecureConnection()
	bnFlag := (current&hci.SettingBondable != 0) == srv.EnableBondable()
	cnFlag := (current&hci.SettingConnectable != 0) == srv.EnableConnectable()
	adFlag := (current&hci.SettingAdvertising != 0) == srv.EnableAdvertising()
	anFlag := (name == "" || name == info.Name) && (shortName == "" || shortName == info.ShortName)

	if pwFlag && leFlag && brFlag && scFlag && bnFlag && cnFlag && adFlag && anFlag {
		return nil
	}

	if pwFlag {
		Log.Debug("Powering off")
		if err := ctrl.SetPowered(false); err != nil {
			return err
		}
	}

	if !leFlag {
		Log.Debug("Enabling LE")
		if err := ctrl.SetLE(true); err != nil {
			return err
		}
	}

	if !brFlag {
		Log.Debugf("%s BR/EDR", enableDisable(srv.EnableBREDR()))
		if err := ctrl.SetBredr(srv.EnableBREDR()); err != nil {
			return err
		}
	}

	if !scFlag {
		Log.Debugf("%s Secure Connections", enableDisable(srv.EnableSecureConnection()))
		if err := ctrl.SetSecureConnections(boolState(srv.EnableSecureConnection())); err != nil {
			return err
		}
	}

	if !bnFlag {
		Log.Debugf("%s Bondable", enableDisable(srv.EnableBondable()))
		if err := ctrl.SetBondable(srv.EnableBondable()); err != nil {
			return err
		}
	}

	if !cnFlag {
		Log.Debugf("%s Connectable", enableDisable(srv.EnableConnectable()))
		if err := ctrl.SetConnectable(srv.EnableConnectable()); err != nil {
			return err
		}
	}

	if !adFlag {
		Log.Debugf("%s Advertising", enableDisable(srv.EnableAdvertising()))
		if err := ctrl.SetAdvertising(boolState(srv.EnableAdvertising())); err != nil {
			return err
		}
	}

	if !anFlag {
		// An empty name keeps the controller's current value.
		if name == "" {
			name = info.Name
		}
		if shortName == "" {
			shortName = info.ShortName
		}
		Log.Infof("Setting advertising name to '%s' (with short name: '%s')", name, shortName)
		if err := ctrl.SetName(name, shortName); err != nil {
			return err
		}
	}

	Log.Debug("Powering on")
	return ctrl.SetPowered(true)
}

func enableDisable(v bool) string {
	if v {
		return "Enabling"
	}
	return "Disabling"
}

func boolState(v bool) byte {
	if v {
		return 1
	}
	return 0
}
