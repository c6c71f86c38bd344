package events

import (
	"Go2NetGuard/internal/model"
	"fmt"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// ToStruct converts a drop event to its protobuf wire form.
func ToStruct(ev *model.DropEvent) (*structpb.Struct, error) {
	fields := map[string]any{
		"run_id":    ev.RunID,
		"timestamp": ev.Timestamp.UTC().Format(time.RFC3339Nano),
		"interface": ev.Interface,
		"stage":     string(ev.Stage),
		"src_ip":    ev.SrcIP,
		"dst_ip":    ev.DstIP,
		"src_port":  float64(ev.SrcPort),
		"dst_port":  float64(ev.DstPort),
		"protocol":  ev.Protocol,
		"reason":    ev.Reason,
		"payload":   ev.Payload,
	}
	if ev.Stage == model.StageRateLimit {
		fields["tokens"] = ev.Tokens
		fields["max_tokens"] = ev.MaxTokens
	}
	return structpb.NewStruct(fields)
}

// FromStruct is the inverse of ToStruct.
func FromStruct(s *structpb.Struct) (*model.DropEvent, error) {
	f := s.GetFields()
	str := func(k string) string { return f[k].GetStringValue() }
	num := func(k string) float64 { return f[k].GetNumberValue() }

	ts, err := time.Parse(time.RFC3339Nano, str("timestamp"))
	if err != nil {
		return nil, fmt.Errorf("bad event timestamp: %w", err)
	}
	return &model.DropEvent{
		RunID:     str("run_id"),
		Timestamp: ts,
		Interface: str("interface"),
		Stage:     model.Stage(str("stage")),
		SrcIP:     str("src_ip"),
		DstIP:     str("dst_ip"),
		SrcPort:   uint16(num("src_port")),
		DstPort:   uint16(num("dst_port")),
		Protocol:  str("protocol"),
		Reason:    str("reason"),
		Payload:   str("payload"),
		Tokens:    num("tokens"),
		MaxTokens: num("max_tokens"),
	}, nil
}

// Encode serializes a drop event to Protobuf binary format.
func Encode(ev *model.DropEvent) ([]byte, error) {
	s, err := ToStruct(ev)
	if err != nil {
		return nil, err
	}
	return proto.Marshal(s)
}

// Decode parses bytes produced by Encode.
func Decode(data []byte) (*model.DropEvent, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("error unmarshalling protobuf: %w", err)
	}
	return FromStruct(&s)
}
