package signaling

import (
	"github.com/pion/webrtc/v4"
)

type Type string

const (
	TypeRegister     Type = "REGISTER"
	TypeSuccess      Type = "SUCCESS"
	TypeError        Type = "ERROR"
	TypeOffer        Type = "OFFER"
	TypeAnswer       Type = "ANSWER"
	TypeICECandidate Type = "ICE_CANDIDATE"
	TypeUserNotFound Type = "USER_NOT_FOUND"
)

// Message is the signaling wire format shared with the relay server.
type Message struct {
	Type         Type                       `json:"type"`
	FromUserID   string                     `json:"fromUserId,omitempty"`
	TargetUserID string                     `json:"targetUserId,omitempty"`
	SDP          *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate    *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
	Message      string                     `json:"message,omitempty"`
	IsVideoCall  bool                       `json:"isVideoCall,omitempty"`
}
