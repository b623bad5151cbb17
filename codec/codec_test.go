package codec

import (
	"bytes"
	"testing"

	"mini-bridge/message"
	"mini-bridge/rpcerr"
)

func testCodec(t *testing.T, cdc Codec) {
	originalMsg := &message.Message{
		Command: "do_stuff_with_num",
		Kind:    rpcerr.KindRemote,
		Payload: []byte{0x01, 0xa1, 0x63, 'n', 'u', 'm', 0x18, 0x2a},
	}

	data, err := cdc.Encode(originalMsg)
	if err != nil {
		t.Fatalf("%s Encode failed: %v", cdc.Type(), err)
	}

	var decodedMsg message.Message
	if err := cdc.Decode(data, &decodedMsg); err != nil {
		t.Fatalf("%s Decode failed: %v", cdc.Type(), err)
	}

	if originalMsg.Command != decodedMsg.Command {
		t.Errorf("Command mismatch: got %s, want %s", decodedMsg.Command, originalMsg.Command)
	}
	if originalMsg.Kind != decodedMsg.Kind {
		t.Errorf("Kind mismatch: got %s, want %s", decodedMsg.Kind, originalMsg.Kind)
	}
	if !bytes.Equal(originalMsg.Payload, decodedMsg.Payload) {
		t.Errorf("Payload mismatch: got %x, want %x", decodedMsg.Payload, originalMsg.Payload)
	}
}

func TestJSONCodec(t *testing.T) {
	testCodec(t, &JSONCodec{})
}

func TestBinaryCodec(t *testing.T) {
	testCodec(t, &BinaryCodec{})
}

func TestCBORCodec(t *testing.T) {
	testCodec(t, &CBORCodec{})
}

func TestBinaryCodecTruncated(t *testing.T) {
	cdc := &BinaryCodec{}
	data, err := cdc.Encode(&message.Message{Command: "echo", Payload: []byte{1, 2, 3}})
	if err != nil {
		t.Fatal(err)
	}

	// Every strict prefix must be rejected, never panic
	for i := 0; i < len(data); i++ {
		var msg message.Message
		if err := cdc.Decode(data[:i], &msg); err == nil {
			t.Fatalf("expect error for %d-byte prefix", i)
		}
	}

	var msg message.Message
	if err := cdc.Decode(append(data, 0x00), &msg); err == nil {
		t.Fatal("expect error for trailing byte")
	}

	// Declared payload length far beyond the buffer
	hostile := []byte{0x00, 0x00, 0x00, 0xff, 0xff, 0xff, 0xff}
	if err := cdc.Decode(hostile, &msg); err == nil {
		t.Fatal("expect error for oversized payload length")
	}
}

func TestGetCodec(t *testing.T) {
	for _, name := range []string{"json", "binary", "cbor"} {
		ct, err := ParseCodecType(name)
		if err != nil {
			t.Fatal(err)
		}
		cdc, err := GetCodec(ct)
		if err != nil {
			t.Fatal(err)
		}
		if cdc.Type().String() != name {
			t.Errorf("expect %s, got %s", name, cdc.Type())
		}
	}
	if _, err := GetCodec(CodecType(9)); err == nil {
		t.Fatal("expect error for unknown codec type")
	}
	if _, err := ParseCodecType("xml"); err == nil {
		t.Fatal("expect error for unknown codec name")
	}
}
