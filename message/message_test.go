package message

import "testing"

func TestNewMessage(t *testing.T) {
	msg := NewMessage(RoleUser, "hei")
	if msg.Role != RoleUser || msg.Text() != "hei" {
		t.Errorf("message = %+v", msg)
	}
	if msg.ID == "" {
		t.Error("ID not generated")
	}
	if msg.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}
}

func TestClone(t *testing.T) {
	msg := NewMessage(RoleAssistant, "svar")
	msg.Metadata = map[string]any{"k": "v"}

	clone := Clone(msg)
	clone.Content = "endret"
	clone.Metadata["k"] = "w"

	if msg.Content != "svar" {
		t.Error("clone shares content with original")
	}
	if msg.Metadata["k"] != "v" {
		t.Error("clone shares metadata with original")
	}
}
