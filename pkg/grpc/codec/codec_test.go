package codec

import (
	"testing"

	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/proto"
)

type message struct {
	LogID uint64 `json:"log_id"`
	Name  string `json:"name,omitempty"`
}

func TestCodec_JSON(t *testing.T) {
	c := Codec{}
	data, err := c.Marshal(&message{LogID: 7, Name: "a"})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(data) != `{"log_id":7,"name":"a"}` {
		t.Fatalf("Marshal() = %s", data)
	}

	var out message
	if err := c.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if out.LogID != 7 || out.Name != "a" {
		t.Fatalf("Unmarshal() = %+v", out)
	}
}

func TestCodec_EmptyPayload(t *testing.T) {
	var out message
	if err := (Codec{}).Unmarshal(nil, &out); err != nil {
		t.Fatalf("Unmarshal(nil) error = %v", err)
	}
}

func TestCodec_Proto(t *testing.T) {
	c := Codec{}
	in := &grpc_health_v1.HealthCheckRequest{Service: "clusterctl.v1.ClusterCtrl"}
	data, err := c.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	want, _ := proto.Marshal(in)
	if string(data) != string(want) {
		t.Fatal("proto messages must use the protobuf wire format")
	}

	out := &grpc_health_v1.HealthCheckRequest{}
	if err := c.Unmarshal(data, out); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if out.GetService() != in.GetService() {
		t.Fatalf("service = %q", out.GetService())
	}
}

func TestCodec_InvalidJSON(t *testing.T) {
	var out message
	if err := (Codec{}).Unmarshal([]byte("{"), &out); err == nil {
		t.Fatal("expected error for truncated json")
	}
}

func TestCodec_Name(t *testing.T) {
	// ClusterCtrl payloads are JSON and must not be labelled as protobuf.
	if got := (Codec{}).Name(); got != "json" {
		t.Fatalf("Name() = %q, want json", got)
	}
}
