package format

import "testing"

func TestHumanSize(t *testing.T) {
	tests := []struct {
		bytes    int64
		expected string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1024, "1.00 KB"},
		{1536, "1.50 KB"},
		{1048576, "1.00 MB"},
		{1073741824, "1.00 GB"},
		{1105197056, "1.03 GB"},
		{1099511627776, "1.00 TB"},
	}

	for _, tt := range tests {
		if got := HumanSize(tt.bytes); got != tt.expected {
			t.Errorf("HumanSize(%d) = %s, want %s", tt.bytes, got, tt.expected)
		}
	}
}
