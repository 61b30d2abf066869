// Package config loads the master's configuration file: transport choice
// and parameters, error-handling policy, and the seed-and-key driver to use.
// It reads an ini-format file section by section with gopkg.in/ini.v1 and
// converts each key with the library's typed Must* accessors, the same way
// an EDS loader reads CANopen's object dictionary section by section — the
// section layout here is XCP's rather than CANopen's.
package config

import (
	"fmt"

	"gopkg.in/ini.v1"
)

// TransportLayer selects the wire transport.
type TransportLayer string

const (
	LayerCAN TransportLayer = "CAN"
	LayerETH TransportLayer = "ETH"
	LayerSXI TransportLayer = "SXI"
	LayerUSB TransportLayer = "USB"
)

// General holds session-wide policy options.
type General struct {
	DisableErrorHandling       bool
	DisconnectResponseOptional bool
	SeedNKeyDLL                string
	SeedNKeyFunction           string
	StimSupport                bool
	MaxRetries                 int // -1 = infinite
}

// Transport holds the options shared by every transport layer plus the
// layer-specific sub-sections.
type Transport struct {
	Layer               TransportLayer
	CreateDaqTimestamps bool
	TimeoutSeconds       float64
	Alignment           int // 1, 2, 4, or 8

	Eth EthTransport
	SxI SxITransport
	Can CanTransport
	Usb UsbTransport
}

// EthTransport is the [Transport.Eth] section.
type EthTransport struct {
	Host           string
	Port           int
	Protocol       string // TCP or UDP
	IPv6           bool
	TCPNoDelay     bool
	BindToAddress  string
	BindToPort     int
}

// SxITransport is the [Transport.SxI] section.
type SxITransport struct {
	Port         string
	Bitrate      int
	Bytesize     int // 5,6,7,8
	Parity       string // N,E,O,M,S
	Stopbits     float64 // 1, 1.5, 2
	HeaderFormat string
	TailFormat   string
	Framing      bool
	EscSync      byte
	EscEsc       byte
}

// CanTransport is the [Transport.Can] section.
type CanTransport struct {
	Interface       string
	Channel         string
	Bitrate         int
	FD              bool
	DataBitrate     int
	CanIDMaster     uint32
	CanIDSlave      uint32
	CanIDBroadcast  uint32
	DaqIdentifier   []uint32
	MaxDLCRequired  bool
	PaddingValue    byte
	SjwAbr          int
	Tseg1Abr        int
	Tseg2Abr        int
	SjwDbr          int
	Tseg1Dbr        int
	Tseg2Dbr        int
}

// UsbTransport is the [Transport.Usb] section.
type UsbTransport struct {
	InEndpoint          int
	OutEndpoint         int
	InMaxPacketSize     int
	OutMaxPacketSize    int
	ConfigurationNumber int
	InterfaceNumber     int
	VendorID            uint16
	ProductID           uint16
	SerialNumber        string
}

// Config is the fully parsed master configuration.
type Config struct {
	General   General
	Transport Transport
}

// Load parses an XCP master configuration file (ini format).
func Load(path string) (*Config, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: load %s: %w", path, err)
	}
	return fromFile(f)
}

func fromFile(f *ini.File) (*Config, error) {
	c := &Config{}

	g := f.Section("General")
	c.General = General{
		DisableErrorHandling:       g.Key("disable_error_handling").MustBool(false),
		DisconnectResponseOptional: g.Key("disconnect_response_optional").MustBool(false),
		SeedNKeyDLL:                g.Key("seed_n_key_dll").String(),
		SeedNKeyFunction:           g.Key("seed_n_key_function").String(),
		StimSupport:                g.Key("stim_support").MustBool(false),
		MaxRetries:                 g.Key("max_retries").MustInt(3),
	}

	t := f.Section("Transport")
	layer := TransportLayer(t.Key("layer").MustString(string(LayerETH)))
	c.Transport = Transport{
		Layer:               layer,
		CreateDaqTimestamps: t.Key("create_daq_timestamps").MustBool(true),
		TimeoutSeconds:      t.Key("timeout").MustFloat64(2.0),
		Alignment:           t.Key("alignment").MustInt(1),
	}

	eth := f.Section("Transport.Eth")
	c.Transport.Eth = EthTransport{
		Host:          eth.Key("host").String(),
		Port:          eth.Key("port").MustInt(5555),
		Protocol:      eth.Key("protocol").MustString("UDP"),
		IPv6:          eth.Key("ipv6").MustBool(false),
		TCPNoDelay:    eth.Key("tcp_nodelay").MustBool(true),
		BindToAddress: eth.Key("bind_to_address").String(),
		BindToPort:    eth.Key("bind_to_port").MustInt(0),
	}

	sxi := f.Section("Transport.SxI")
	c.Transport.SxI = SxITransport{
		Port:         sxi.Key("port").String(),
		Bitrate:      sxi.Key("bitrate").MustInt(115200),
		Bytesize:     sxi.Key("bytesize").MustInt(8),
		Parity:       sxi.Key("parity").MustString("N"),
		Stopbits:     sxi.Key("stopbits").MustFloat64(1),
		HeaderFormat: sxi.Key("header_format").MustString("LEN_BYTE"),
		TailFormat:   sxi.Key("tail_format").MustString("NO_CHECKSUM"),
		Framing:      sxi.Key("framing").MustBool(true),
		EscSync:      byte(sxi.Key("esc_sync").MustInt(0x7e)),
		EscEsc:       byte(sxi.Key("esc_esc").MustInt(0x7d)),
	}

	can := f.Section("Transport.Can")
	c.Transport.Can = CanTransport{
		Interface:      can.Key("interface").String(),
		Channel:        can.Key("channel").String(),
		Bitrate:        can.Key("bitrate").MustInt(500000),
		FD:             can.Key("fd").MustBool(false),
		DataBitrate:    can.Key("data_bitrate").MustInt(2000000),
		CanIDMaster:    uint32(can.Key("can_id_master").MustUint64(0)),
		CanIDSlave:     uint32(can.Key("can_id_slave").MustUint64(0)),
		CanIDBroadcast: uint32(can.Key("can_id_broadcast").MustUint64(0)),
		MaxDLCRequired: can.Key("max_dlc_required").MustBool(false),
		PaddingValue:   byte(can.Key("padding_value").MustInt(0)),
		SjwAbr:         can.Key("sjw_abr").MustInt(0),
		Tseg1Abr:       can.Key("tseg1_abr").MustInt(0),
		Tseg2Abr:       can.Key("tseg2_abr").MustInt(0),
		SjwDbr:         can.Key("sjw_dbr").MustInt(0),
		Tseg1Dbr:       can.Key("tseg1_dbr").MustInt(0),
		Tseg2Dbr:       can.Key("tseg2_dbr").MustInt(0),
	}
	for _, raw := range can.Key("daq_identifier").Strings(",") {
		var id uint64
		if _, err := fmt.Sscanf(raw, "%d", &id); err == nil {
			c.Transport.Can.DaqIdentifier = append(c.Transport.Can.DaqIdentifier, uint32(id))
		}
	}

	usb := f.Section("Transport.Usb")
	c.Transport.Usb = UsbTransport{
		InEndpoint:          usb.Key("in_ep").MustInt(0x81),
		OutEndpoint:         usb.Key("out_ep").MustInt(0x01),
		InMaxPacketSize:     usb.Key("in_ep_max_packet_size").MustInt(64),
		OutMaxPacketSize:    usb.Key("out_ep_max_packet_size").MustInt(64),
		ConfigurationNumber: usb.Key("configuration_number").MustInt(1),
		InterfaceNumber:     usb.Key("interface_number").MustInt(0),
		VendorID:            uint16(usb.Key("vendor_id").MustUint64(0)),
		ProductID:           uint16(usb.Key("product_id").MustUint64(0)),
		SerialNumber:        usb.Key("serial_number").String(),
	}

	return c, nil
}
