package hkhoffmation

import (
	"github.com/brutella/hc/characteristic"
	"github.com/brutella/hc/service"
)

// HomeKit types of the recording management services.
const (
	TypeCameraRecordingManagement             = "204"
	TypeSupportedCameraRecordingConfiguration = "205"
	TypeSupportedVideoRecordingConfiguration  = "206"
	TypeSupportedAudioRecordingConfiguration  = "207"
	TypeSelectedCameraRecordingConfiguration  = "209"
	TypeRecordingAudioActive                  = "226"
	TypeActive                                = "B0"

	TypeDataStreamTransportManagement            = "129"
	TypeSupportedDataStreamTransportConfiguration = "130"
	TypeSetupDataStreamTransport                  = "131"
	TypeVersion                                   = "37"
)

var (
	permsRead      = []string{characteristic.PermRead, characteristic.PermEvents}
	permsReadWrite = []string{characteristic.PermRead, characteristic.PermWrite, characteristic.PermEvents}
)

func newTLV8(typ string, perms []string) *characteristic.Bytes {
	c := characteristic.NewBytes(typ)
	c.Perms = perms
	c.SetValue([]byte{})
	return c
}

func newSwitch(typ string) *characteristic.Int {
	c := characteristic.NewInt(typ)
	c.Format = characteristic.FormatUInt8
	c.Perms = permsReadWrite
	c.SetMinValue(0)
	c.SetMaxValue(1)
	c.SetStepValue(1)
	c.SetValue(0)
	return c
}

// RecordingManagement is the camera recording management service.
type RecordingManagement struct {
	*service.Service

	SupportedCameraRecordingConfiguration *characteristic.Bytes
	SupportedVideoRecordingConfiguration  *characteristic.Bytes
	SupportedAudioRecordingConfiguration  *characteristic.Bytes
	SelectedCameraRecordingConfiguration  *characteristic.Bytes
	Active                                *characteristic.Int
	RecordingAudioActive                  *characteristic.Int
}

func NewRecordingManagement() *RecordingManagement {
	svc := RecordingManagement{}
	svc.Service = service.New(TypeCameraRecordingManagement)

	svc.SupportedCameraRecordingConfiguration = newTLV8(TypeSupportedCameraRecordingConfiguration, permsRead)
	svc.AddCharacteristic(svc.SupportedCameraRecordingConfiguration.Characteristic)

	svc.SupportedVideoRecordingConfiguration = newTLV8(TypeSupportedVideoRecordingConfiguration, permsRead)
	svc.AddCharacteristic(svc.SupportedVideoRecordingConfiguration.Characteristic)

	svc.SupportedAudioRecordingConfiguration = newTLV8(TypeSupportedAudioRecordingConfiguration, permsRead)
	svc.AddCharacteristic(svc.SupportedAudioRecordingConfiguration.Characteristic)

	svc.SelectedCameraRecordingConfiguration = newTLV8(TypeSelectedCameraRecordingConfiguration, permsReadWrite)
	svc.AddCharacteristic(svc.SelectedCameraRecordingConfiguration.Characteristic)

	svc.Active = newSwitch(TypeActive)
	svc.AddCharacteristic(svc.Active.Characteristic)

	svc.RecordingAudioActive = newSwitch(TypeRecordingAudioActive)
	svc.AddCharacteristic(svc.RecordingAudioActive.Characteristic)

	return &svc
}

// DataStreamManagement is the data stream transport management service.
type DataStreamManagement struct {
	*service.Service

	SupportedDataStreamTransportConfiguration *characteristic.Bytes
	SetupDataStreamTransport                  *characteristic.Bytes
	Version                                   *characteristic.String
}

func NewDataStreamManagement() *DataStreamManagement {
	svc := DataStreamManagement{}
	svc.Service = service.New(TypeDataStreamTransportManagement)

	svc.SupportedDataStreamTransportConfiguration = newTLV8(TypeSupportedDataStreamTransportConfiguration, permsRead)
	svc.AddCharacteristic(svc.SupportedDataStreamTransportConfiguration.Characteristic)

	svc.SetupDataStreamTransport = newTLV8(TypeSetupDataStreamTransport, permsReadWrite)
	svc.AddCharacteristic(svc.SetupDataStreamTransport.Characteristic)

	svc.Version = characteristic.NewString(TypeVersion)
	svc.Version.Perms = []string{characteristic.PermRead}
	svc.Version.SetValue("1.0")
	svc.AddCharacteristic(svc.Version.Characteristic)

	return &svc
}
