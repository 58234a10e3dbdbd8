package serialmux

import (
	"testing"
)

func TestRealPortFactory_Open_InvalidPath(t *testing.T) {
	factory := RealPortFactory{}

	port, err := factory.Open("/dev/nonexistent-serial-port-12345", PortOptions{})
	if err == nil {
		t.Error("Expected error when opening non-existent serial port")
		port.Close()
	}
}

func TestRealPortFactory_Open_InvalidOptions(t *testing.T) {
	factory := RealPortFactory{}

	_, err := factory.Open("/dev/nonexistent-serial-port-12345", PortOptions{Parity: "X"})
	if err == nil {
		t.Fatal("Expected error for invalid parity")
	}
}

func TestRealPortFactory_List(t *testing.T) {
	ports, err := RealPortFactory{}.List()
	if err != nil {
		// Containers without /dev access may refuse enumeration.
		t.Skipf("port enumeration unavailable: %v", err)
	}
	if ports == nil {
		t.Error("List() returned nil slice, want empty or populated slice")
	}
}

func TestMockSerialPortFactory(t *testing.T) {
	port := NewTestableSerialPort()
	factory := NewMockSerialPortFactory(port)
	factory.Ports = []string{"/dev/ttyUSB0", "/dev/ttyACM0"}

	got, err := factory.Open("/dev/ttyUSB0", PortOptions{BaudRate: 9600})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if got != port {
		t.Error("Open() returned a different port")
	}

	call := factory.LastCall()
	if call == nil || call.Path != "/dev/ttyUSB0" || call.Options.BaudRate != 9600 {
		t.Errorf("LastCall() = %+v", call)
	}

	names, err := factory.List()
	if err != nil || len(names) != 2 {
		t.Errorf("List() = %v, %v", names, err)
	}

	factory.Reset()
	if factory.LastCall() != nil {
		t.Error("Reset() did not clear calls")
	}
}
