package mqtttransport

import "testing"

func TestParseValidTopics(t *testing.T) {
	tt := []struct {
		name  string
		topic string
		want  Topic
	}{
		{"uplink event", "eu868/gateway/aabbccddeeff0011/event/up", Topic{Region: RegionEU868, GatewayID: "aabbccddeeff0011", Kind: KindEvent, Sub: "up"}},
		{"downlink command", "eu868/gateway/aabbccddeeff0011/command/down", Topic{Region: RegionEU868, GatewayID: "aabbccddeeff0011", Kind: KindCommand, Sub: "down"}},
		{"connection state", "eu868/gateway/aabbccddeeff0011/state/conn", Topic{Region: RegionEU868, GatewayID: "aabbccddeeff0011", Kind: KindState, Sub: "conn"}},
		{"us915 region", "us915/gateway/aabbccddeeff0011/event/join", Topic{Region: RegionUS915, GatewayID: "aabbccddeeff0011", Kind: KindEvent, Sub: "join"}},
	}
	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Parse(tc.topic)
			if err != nil {
				t.Fatalf("Parse(%q): %v", tc.topic, err)
			}
			if got != tc.want {
				t.Fatalf("Parse(%q) = %+v, want %+v", tc.topic, got, tc.want)
			}
		})
	}
}

func TestParseRejectsMalformedTopics(t *testing.T) {
	tt := []struct {
		name    string
		topic   string
		wantErr ParseError
	}{
		{"unknown region", "mars1/gateway/aabb/event/up", ErrLoRaWanRegion},
		{"missing gateway marker", "eu868/gw/aabb/event/up", ErrNoGatewayMarker},
		{"unknown kind", "eu868/gateway/aabb/telemetry/up", ErrTopicType},
		{"unknown event sub", "eu868/gateway/aabb/event/bogus", ErrEventType},
		{"unknown state sub", "eu868/gateway/aabb/state/bogus", ErrStateType},
		{"unknown command sub", "eu868/gateway/aabb/command/bogus", ErrCommandType},
		{"too short", "eu868/gateway/aabb/event", ErrTooShort},
		{"too long", "eu868/gateway/aabb/event/up/extra", ErrTooLong},
	}
	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.topic)
			if err != tc.wantErr {
				t.Fatalf("Parse(%q) err = %v, want %v", tc.topic, err, tc.wantErr)
			}
		})
	}
}

func TestDownlinkTopic(t *testing.T) {
	got := DownlinkTopic("aabbccdd")
	want := "eu868/gateway/aabbccdd/command/down"
	if got != want {
		t.Fatalf("DownlinkTopic() = %q, want %q", got, want)
	}
}
