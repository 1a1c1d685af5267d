package enrichment

// Service joins the chat tasks and the Gemini tasks behind one value.
type Service struct {
	*Chat
	*Gemini
}

func NewService(chat *Chat, gemini *Gemini) *Service {
	return &Service{Chat: chat, Gemini: gemini}
}
