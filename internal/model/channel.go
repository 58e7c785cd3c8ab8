package model

import "fmt"

type Channel string

const (
	ChannelWhatsApp Channel = "whatsapp"
	ChannelTelegram Channel = "telegram"
)

func ParseChannel(raw string) (Channel, error) {
	switch Channel(raw) {
	case ChannelWhatsApp:
		return ChannelWhatsApp, nil
	case ChannelTelegram:
		return ChannelTelegram, nil
	}
	return "", fmt.Errorf("unsupported channel %q", raw)
}
