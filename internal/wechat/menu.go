// ABOUTME: Menu definition and push for the official-account conversation menu.
// ABOUTME: Also provides the msgmenu satisfaction prompt sent after a response.

package wechat

import "context"

// Menu click keys the bot reacts to.
const (
	MenuKeyTutorial = "tutorial"
	MenuKeyExplain  = "explain"
	MenuKeyEnglish  = "english_equivalent"
	MenuKeySimilar  = "similar"
	MenuKeyVoice    = "voice"
)

// MenuButton is one entry in the account menu. A button either has a click
// key or a list of sub-buttons.
type MenuButton struct {
	Name       string       `json:"name"`
	Type       string       `json:"type,omitempty"`
	Key        string       `json:"key,omitempty"`
	SubButtons []MenuButton `json:"sub_button,omitempty"`
}

// Menu is the account menu pushed to the platform.
type Menu struct {
	Buttons []MenuButton `json:"button"`
}

// DefaultMenu is the tutor bot's menu: a tutorial entry plus the clarifying
// shortcuts handled by the session controller.
func DefaultMenu() Menu {
	return Menu{Buttons: []MenuButton{
		{Name: "功能介绍", Type: "click", Key: MenuKeyTutorial},
		{Name: "功能", SubButtons: []MenuButton{
			{Name: "翻译解释", Type: "click", Key: MenuKeyExplain},
			{Name: "英文表达", Type: "click", Key: MenuKeyEnglish},
			{Name: "教我相关词", Type: "click", Key: MenuKeySimilar},
			{Name: "用语音重复", Type: "click", Key: MenuKeyVoice},
		}},
	}}
}

// CreateMenu pushes the account menu to the platform.
func (c *Client) CreateMenu(ctx context.Context, menu Menu) error {
	return c.postJSON(ctx, "/cgi-bin/menu/create", menu)
}

// SendMenuPrompt sends a clickable satisfaction prompt after a response.
func (c *Client) SendMenuPrompt(ctx context.Context, toUser string) error {
	return c.postJSON(ctx, "/cgi-bin/message/custom/send", map[string]any{
		"touser":  toUser,
		"msgtype": "msgmenu",
		"msgmenu": map[string]any{
			"head_content": "这个回答对你有帮助吗?",
			"list": []map[string]string{
				{"id": "101", "content": "有帮助"},
				{"id": "102", "content": "没帮助"},
			},
			"tail_content": "谢谢反馈!",
		},
	})
}
