package constant

// User facing copy.
const (
	MessageSearching          = "🔍 Searching for a partner..."
	MessageFindingNew         = "🔄 Finding you a new partner..."
	MessageConnected          = "🎉 You are connected! Start chatting."
	MessagePartnerLeft        = "❌ Your partner has left the chat. Type /start to find a new one."
	MessageStopped            = "❌ You have stopped the chat. Type /start to search again."
	MessageNotConnected       = "You are not connected to anyone. Type /start to find a partner."
	MessageRelayFailed        = "❌ Could not send message. Your partner has left. Type /start to find a new one."
	MessageAutomationProblem  = "Sorry, the AI seems to be having a problem. Please type /start to try again."
	MessageAutomationDown     = "Sorry, the AI service is currently unavailable. Please try again later."
	MessageInactivityFarewell = "Looks like you're busy. Ending the chat now. Feel free to start a new one anytime!"
	MessageInternalError      = "Sorry, something went wrong on our side. Please type /start to try again."

	AutomationOpener = "hey, finally got a match! what's up? 😊"
)
