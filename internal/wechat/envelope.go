// ABOUTME: Webhook XML envelopes: inbound message parsing and synchronous replies.
// ABOUTME: Replies use CDATA fields per the platform's callback message format.

package wechat

import (
	"encoding/xml"
	"fmt"
	"time"
)

// Inbound message kinds.
const (
	MsgTypeText  = "text"
	MsgTypeVoice = "voice"
	MsgTypeEvent = "event"
)

// Event names.
const (
	EventSubscribe = "subscribe"
	EventClick     = "CLICK"
)

// InboundMessage is the XML payload the platform POSTs to the webhook.
// Recognition carries the platform's own speech-to-text result when enabled.
type InboundMessage struct {
	XMLName      xml.Name `xml:"xml"`
	ToUserName   string   `xml:"ToUserName"`
	FromUserName string   `xml:"FromUserName"`
	CreateTime   int64    `xml:"CreateTime"`
	MsgType      string   `xml:"MsgType"`
	Content      string   `xml:"Content"`
	Event        string   `xml:"Event"`
	EventKey     string   `xml:"EventKey"`
	MediaID      string   `xml:"MediaId"`
	Recognition  string   `xml:"Recognition"`
	MsgID        int64    `xml:"MsgId"`
}

// ParseInbound decodes a webhook POST body. Sender and message type are
// required; anything else is event-specific.
func ParseInbound(body []byte) (*InboundMessage, error) {
	var msg InboundMessage
	if err := xml.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("parsing inbound XML: %w", err)
	}
	if msg.FromUserName == "" || msg.MsgType == "" {
		return nil, fmt.Errorf("inbound message missing required fields")
	}
	return &msg, nil
}

type cdata struct {
	Value string `xml:",cdata"`
}

// textReply is the synchronous reply envelope. From and To are inverted
// relative to the inbound message.
type textReply struct {
	XMLName      xml.Name `xml:"xml"`
	ToUserName   cdata    `xml:"ToUserName"`
	FromUserName cdata    `xml:"FromUserName"`
	CreateTime   int64    `xml:"CreateTime"`
	MsgType      cdata    `xml:"MsgType"`
	Content      cdata    `xml:"Content"`
}

// FormatReply builds the synchronous XML text reply to an inbound message.
func FormatReply(inbound *InboundMessage, content string) (string, error) {
	reply := textReply{
		ToUserName:   cdata{inbound.FromUserName},
		FromUserName: cdata{inbound.ToUserName},
		CreateTime:   time.Now().Unix(),
		MsgType:      cdata{MsgTypeText},
		Content:      cdata{content},
	}

	out, err := xml.Marshal(reply)
	if err != nil {
		return "", fmt.Errorf("encoding reply: %w", err)
	}
	return string(out), nil
}
