package aws

import "testing"

func TestPrincipalNameFromARN(t *testing.T) {
	tests := []struct {
		arn     string
		want    string
		wantErr bool
	}{
		{arn: "arn:aws:iam::123456789012:user/alice", want: "alice"},
		{arn: "arn:aws:iam::123456789012:user/eng/alice", want: "alice"},
		{arn: "arn:aws:iam::123456789012:role/deploy", want: "deploy"},
		{arn: "arn:aws:iam::123456789012:user/", wantErr: true},
		{arn: "not-an-arn", wantErr: true},
	}

	for _, tt := range tests {
		got, err := principalNameFromARN(tt.arn)
		if tt.wantErr {
			if err == nil {
				t.Errorf("principalNameFromARN(%q) expected error", tt.arn)
			}
			continue
		}
		if err != nil {
			t.Errorf("principalNameFromARN(%q): %v", tt.arn, err)
			continue
		}
		if got != tt.want {
			t.Errorf("principalNameFromARN(%q) = %q, want %q", tt.arn, got, tt.want)
		}
	}
}
