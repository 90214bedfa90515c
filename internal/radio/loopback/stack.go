package loopback

import (
	"fmt"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/cowtag/internal/collar"
	"github.com/srg/cowtag/internal/host"
	"github.com/srg/cowtag/internal/profile"
	"github.com/srg/cowtag/internal/telemetry"
)

// HostStack is the host end of the air channel.
type HostStack struct {
	air *Air
}

var _ host.Stack = (*HostStack)(nil)

func (h *HostStack) StartScan(phy host.PHY, mode host.DiscoveryMode) error {
	a := h.air
	a.mu.Lock()
	a.scanning = true
	a.mu.Unlock()
	a.logger.WithFields(logrus.Fields{"phy": phy.String(), "mode": mode.String()}).Trace("Air: scan started")
	return nil
}

func (h *HostStack) StopScan() error {
	a := h.air
	a.mu.Lock()
	a.scanning = false
	a.mu.Unlock()
	return nil
}

func (h *HostStack) SetScanParameters(host.ScanParameters) error { return nil }

func (h *HostStack) SetSyncParameters(host.SyncParameters) error { return nil }

func (h *HostStack) OpenConnection(address string, _ uint8) (uint8, error) {
	a := h.air
	a.mu.Lock()
	if address != a.opts.CollarAddress || !a.advertising || !a.connectable || a.connected {
		a.mu.Unlock()
		return 0, fmt.Errorf("%w: %s", ErrNotAdvertising, address)
	}
	a.connected = true
	a.advertising = false
	a.mu.Unlock()

	if err := a.emitCollar(collar.ConnectionOpened{Connection: connectionHandle}); err != nil {
		return 0, err
	}
	if err := a.emitHost(host.ConnectionOpened{Connection: connectionHandle, Address: address}); err != nil {
		return 0, err
	}
	// 50 ms interval, no latency, 1 s supervision timeout.
	if err := a.emitHost(host.ConnectionParameters{Connection: connectionHandle, Interval: 40, Timeout: 100}); err != nil {
		return 0, err
	}
	return connectionHandle, nil
}

func (h *HostStack) CloseConnection(conn uint8) error {
	return h.air.closeConnection(conn, 0x16)
}

func (h *HostStack) DiscoverPrimaryServicesByUUID(conn uint8, uuid ble.UUID) error {
	a := h.air
	if err := a.checkConnection(conn); err != nil {
		return err
	}
	if uuid.Equal(profile.ServiceUUID) {
		if err := a.emitHost(host.ServiceFound{Connection: conn, Service: serviceHandle, UUID: profile.ServiceUUID}); err != nil {
			return err
		}
	}
	return a.emitHost(host.ProcedureCompleted{Connection: conn})
}

func (h *HostStack) DiscoverCharacteristics(conn uint8, service uint32) error {
	a := h.air
	if err := a.checkConnection(conn); err != nil {
		return err
	}
	if service == serviceHandle {
		chars := []host.CharacteristicFound{
			{Connection: conn, Characteristic: timeHandle, UUID: profile.TimeCharUUID},
			{Connection: conn, Characteristic: identityHandle, UUID: profile.IdentityCharUUID},
		}
		for _, c := range chars {
			if err := a.emitHost(c); err != nil {
				return err
			}
		}
	}
	return a.emitHost(host.ProcedureCompleted{Connection: conn})
}

func (h *HostStack) WriteWithoutResponse(conn uint8, characteristic uint16, value []byte) error {
	a := h.air
	if err := a.checkConnection(conn); err != nil {
		return err
	}
	var attr collar.Attribute
	switch characteristic {
	case timeHandle:
		attr = collar.AttributeTime
	case identityHandle:
		attr = collar.AttributeIdentity
	default:
		return fmt.Errorf("unknown characteristic handle %#04x", characteristic)
	}
	return a.emitCollar(collar.AttributeWritten{Attribute: attr, Value: append([]byte(nil), value...)})
}

func (h *HostStack) OpenSync(address string, _ uint8, _ uint8) (uint16, error) {
	a := h.air
	a.mu.Lock()
	defer a.mu.Unlock()
	if address != a.opts.CollarAddress || !a.extended {
		return 0, fmt.Errorf("%w: %s", ErrNotAdvertising, address)
	}
	a.syncPending = true
	return syncHandle, nil
}

func (a *Air) checkConnection(conn uint8) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected || conn != connectionHandle {
		return fmt.Errorf("%w: %d", ErrNoConnection, conn)
	}
	return nil
}

func (a *Air) closeConnection(conn uint8, reason uint16) error {
	a.mu.Lock()
	if !a.connected || conn != connectionHandle {
		a.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrNoConnection, conn)
	}
	a.connected = false
	a.mu.Unlock()

	if err := a.emitCollar(collar.ConnectionClosed{Connection: conn, Reason: reason}); err != nil {
		return err
	}
	return a.emitHost(host.ConnectionClosed{Connection: conn, Reason: reason})
}

// CollarRadio is the collar end of the air channel.
type CollarRadio struct {
	air *Air
}

var _ collar.Radio = (*CollarRadio)(nil)

func (c *CollarRadio) CreateAdvertisingSet() (uint8, error) { return advertisingSet, nil }

func (c *CollarRadio) SetTxPower(_ uint8, power int16) (int16, error) { return power, nil }

func (c *CollarRadio) SetTiming(_ uint8, interval time.Duration) error {
	a := c.air
	a.mu.Lock()
	defer a.mu.Unlock()
	a.advInterval = interval
	return nil
}

func (c *CollarRadio) SetPHY(uint8, collar.PHY, collar.PHY) error { return nil }

func (c *CollarRadio) StartLegacyAdvertising(_ uint8, payload []byte, connectable bool) error {
	return c.startAdvertising(payload, connectable, false)
}

func (c *CollarRadio) StartExtendedAdvertising(_ uint8, payload []byte, connectable bool) error {
	return c.startAdvertising(payload, connectable, true)
}

func (c *CollarRadio) startAdvertising(payload []byte, connectable, extended bool) error {
	a := c.air
	a.mu.Lock()
	defer a.mu.Unlock()
	a.advertising = true
	a.connectable = connectable
	a.extended = extended
	a.advPayload = append([]byte(nil), payload...)
	return nil
}

// SetPeriodicData queues a frame for the periodic train. When the queue is full
// the oldest frame is discarded.
func (c *CollarRadio) SetPeriodicData(_ uint8, data []byte) error {
	if len(data) != telemetry.FrameSize {
		return fmt.Errorf("periodic data must be %d bytes, got %d", telemetry.FrameSize, len(data))
	}
	a := c.air
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.periodic.Capacity()-a.periodic.Length() < len(data) {
		discard := make([]byte, telemetry.FrameSize)
		if _, err := a.periodic.TryRead(discard); err != nil {
			return fmt.Errorf("failed to make room for periodic data: %w", err)
		}
	}
	if _, err := a.periodic.Write(data); err != nil {
		return fmt.Errorf("failed to queue periodic data: %w", err)
	}
	a.framesOnAir++
	return nil
}

func (c *CollarRadio) StartPeriodicAdvertising(_ uint8, interval time.Duration) error {
	a := c.air
	a.mu.Lock()
	defer a.mu.Unlock()
	a.perInterval = interval
	a.perRunning = true
	return nil
}

func (c *CollarRadio) CloseConnection(conn uint8) error {
	return c.air.closeConnection(conn, 0x13)
}
