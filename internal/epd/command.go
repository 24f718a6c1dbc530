package epd

import "fmt"

// Command is one opcode of the panel controller. The set is closed: the
// constants below are transcribed from the 5.65" (F) datasheet and every
// transaction the driver issues goes through one of them.
type Command byte

const (
	// Resolution, scan direction, booster switch, soft reset. Params: EF 08.
	PanelSetting Command = 0x00
	// Internal/external power selection and VGH/VGL, VDH/VDL levels. Params: 37 00 23 23.
	PowerSetting Command = 0x01
	// Turns the charge pump off after the power-off sequence. No params.
	PowerOff Command = 0x02
	// Frames to wait before power-off. Params: 00.
	PowerOffSequenceSetting Command = 0x03
	// Turns the charge pump on. No params.
	PowerOn Command = 0x04
	// Booster soft-start phases A, B, C. Params: C7 C7 1D.
	BoosterSoftStart Command = 0x06
	// Enters deep sleep; only a hardware reset wakes the controller. Params: A5.
	DeepSleep Command = 0x07
	// Starts loading the frame buffer; followed by width*height/2 bytes.
	DataStartTransmission1 Command = 0x10
	// Stops data transmission.
	DataStop Command = 0x11
	// Refreshes the panel from the frame buffer. No params.
	DisplayRefresh Command = 0x12
	// Image processing mode selection.
	ImageProcess Command = 0x13

	// Waveform lookup tables. Not used: this panel refreshes only with the
	// waveform stored in its OTP.
	LUTForVCOM Command = 0x20
	LUTBlack   Command = 0x21
	LUTWhite   Command = 0x22
	LUTGray1   Command = 0x23
	LUTGray2   Command = 0x24
	LUTRed0    Command = 0x25
	LUTRed1    Command = 0x26
	LUTRed2    Command = 0x27
	LUTRed3    Command = 0x28
	LUTXON     Command = 0x29

	// Frame rate. Params: 3C (50 Hz).
	PLLControl Command = 0x30
	// Temperature sensor selection. Params: 00 (internal).
	TemperatureSensorCommand Command = 0x40
	TemperatureCalibration   Command = 0x41
	TemperatureSensorWrite   Command = 0x42
	TemperatureSensorRead    Command = 0x43
	// Border output and data polarity. Params: 37.
	VCOMAndDataIntervalSetting Command = 0x50
	LowPowerDetection          Command = 0x51
	// Gate/source non-overlap period. Params: 22.
	TCONSetting Command = 0x60
	// Horizontal then vertical resolution, two bytes each, big endian.
	TCONResolution      Command = 0x61
	SPIFlashControl     Command = 0x65
	Revision            Command = 0x70
	GetStatus           Command = 0x71
	AutoMeasurementVCOM Command = 0x80
	ReadVCOMValue       Command = 0x81
	VCMDCSetting        Command = 0x82
	// Params: AA.
	FlashMode Command = 0xE3
)

var commandNames = map[Command]string{
	PanelSetting:               "PanelSetting",
	PowerSetting:               "PowerSetting",
	PowerOff:                   "PowerOff",
	PowerOffSequenceSetting:    "PowerOffSequenceSetting",
	PowerOn:                    "PowerOn",
	BoosterSoftStart:           "BoosterSoftStart",
	DeepSleep:                  "DeepSleep",
	DataStartTransmission1:     "DataStartTransmission1",
	DataStop:                   "DataStop",
	DisplayRefresh:             "DisplayRefresh",
	ImageProcess:               "ImageProcess",
	LUTForVCOM:                 "LUTForVCOM",
	LUTBlack:                   "LUTBlack",
	LUTWhite:                   "LUTWhite",
	LUTGray1:                   "LUTGray1",
	LUTGray2:                   "LUTGray2",
	LUTRed0:                    "LUTRed0",
	LUTRed1:                    "LUTRed1",
	LUTRed2:                    "LUTRed2",
	LUTRed3:                    "LUTRed3",
	LUTXON:                     "LUTXON",
	PLLControl:                 "PLLControl",
	TemperatureSensorCommand:   "TemperatureSensorCommand",
	TemperatureCalibration:     "TemperatureCalibration",
	TemperatureSensorWrite:     "TemperatureSensorWrite",
	TemperatureSensorRead:      "TemperatureSensorRead",
	VCOMAndDataIntervalSetting: "VCOMAndDataIntervalSetting",
	LowPowerDetection:          "LowPowerDetection",
	TCONSetting:                "TCONSetting",
	TCONResolution:             "TCONResolution",
	SPIFlashControl:            "SPIFlashControl",
	Revision:                   "Revision",
	GetStatus:                  "GetStatus",
	AutoMeasurementVCOM:        "AutoMeasurementVCOM",
	ReadVCOMValue:              "ReadVCOMValue",
	VCMDCSetting:               "VCMDCSetting",
	FlashMode:                  "FlashMode",
}

// Address returns the byte sent on the wire.
func (c Command) Address() byte {
	return byte(c)
}

// Valid reports whether c is one of the opcodes defined above.
func (c Command) Valid() bool {
	_, ok := commandNames[c]
	return ok
}

func (c Command) String() string {
	if n, ok := commandNames[c]; ok {
		return n
	}
	return fmt.Sprintf("Command(0x%02X)", byte(c))
}
