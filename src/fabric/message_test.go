package fabric

import (
	"reflect"
	"testing"
)

func TestCreateReply(t *testing.T) {
	msg := NewMessage("client", "branch-1", ConvGetNotifications, "john")
	msg.ReplyWith = "GET_NOTIFICATIONS-john-xyz"

	reply := msg.CreateReply("branch-1", "No notifications for account john")

	if !reflect.DeepEqual(reply.Receivers, []string{"client"}) {
		t.Fatalf("reply should go back to the sender, not %v", reply.Receivers)
	}
	if reply.ConversationID != ConvGetNotifications {
		t.Fatalf("reply should keep the conversation, not %s", reply.ConversationID)
	}
	if reply.InReplyTo != msg.ReplyWith {
		t.Fatalf("reply should echo the correlation tag, not %s", reply.InReplyTo)
	}
	if reply.ReplyWith != "" {
		t.Fatalf("reply should not carry its own tag, got %s", reply.ReplyWith)
	}
}

func TestMessageMarshal(t *testing.T) {
	msg := Message{
		Sender:         "branch-1",
		Receivers:      []string{"branch-2", "notification"},
		ConversationID: ConvSyncAccount,
		Content:        "john;150",
	}

	raw, err := msg.Marshal()
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	var decoded Message
	if err := decoded.Unmarshal(raw); err != nil {
		t.Fatalf("err: %v", err)
	}

	if !reflect.DeepEqual(msg, decoded) {
		t.Fatalf("decoded message should be %#v, not %#v", msg, decoded)
	}
}
