// Package hkhoffmation exposes the cameras of a home automation server as
// HomeKit IP cameras.
package hkhoffmation

import (
	"github.com/brutella/hc/accessory"
	"github.com/brutella/hc/service"
)

// Camera provides RTP video streaming, recording management, a motion sensor
// and Speaker and Mic controls.
type Camera struct {
	*accessory.Accessory
	StreamManagement []*service.CameraRTPStreamManagement
	Recording        *RecordingManagement
	DataStream       *DataStreamManagement
	Motion           *service.MotionSensor
	Speaker          *service.Speaker
	Microphone       *service.Microphone
}

// NewCamera returns an IP camera accessory with streams stream management
// services. At least one is always added.
func NewCamera(info accessory.Info, streams int) *Camera {
	if streams < 1 {
		streams = 1
	}

	acc := Camera{}
	acc.Accessory = accessory.New(info, accessory.TypeIPCamera)

	for i := 0; i < streams; i++ {
		m := service.NewCameraRTPStreamManagement()
		acc.AddService(m.Service)
		acc.StreamManagement = append(acc.StreamManagement, m)
	}

	acc.Recording = NewRecordingManagement()
	acc.AddService(acc.Recording.Service)

	acc.DataStream = NewDataStreamManagement()
	acc.AddService(acc.DataStream.Service)

	acc.Motion = service.NewMotionSensor()
	acc.AddService(acc.Motion.Service)

	acc.Speaker = service.NewSpeaker()
	acc.AddService(acc.Speaker.Service)

	acc.Microphone = service.NewMicrophone()
	acc.AddService(acc.Microphone.Service)

	return &acc
}
