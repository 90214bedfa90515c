package goble

import (
	"fmt"

	"github.com/go-ble/ble"
)

// DeviceFactory creates the platform ble.Device. Tests may override it.
var DeviceFactory = newDevice

// OpenDevice creates the platform device and makes it the go-ble default.
func OpenDevice() (ble.Device, error) {
	dev, err := DeviceFactory()
	if err != nil {
		return nil, fmt.Errorf("failed to open BLE device: %w", err)
	}
	ble.SetDefaultDevice(dev)
	return dev, nil
}
