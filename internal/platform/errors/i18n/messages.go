package i18n

// Error codes must match the codes defined in internal/platform/errors/codes.go.
var enUSMessages = map[Code]string{
	"UNKNOWN":                    "Something went wrong.",
	"NOT_FOUND":                  "The requested record was not found.",
	"USER_NOT_FOUND":             "User {{.user_id}} was not found.",
	"CONVERSATION_NOT_FOUND":     "Conversation {{.conversation_id}} was not found.",
	"MESSAGE_NOT_FOUND":          "Message {{.message_id}} was not found.",
	"NOT_A_PARTICIPANT":          "You are not a participant in this conversation.",
	"ALREADY_PARTICIPANT":        "User is already a participant.",
	"USER_ALREADY_EXISTS":        "An account with this email already exists.",
	"FORBIDDEN":                  "You do not have permission to do that.",
	"INVARIANT_VIOLATION":        "The request conflicts with the current conversation state.",
	"UNAUTHENTICATED":            "Caller identity is required.",
	"STORE_NOT_CONFIGURED":       "The service is not ready.",
	"EMPTY_MESSAGE_BODY":         "Message body cannot be empty.",
	"INVALID_EMAIL":              "Email address is invalid.",
	"INVALID_ROLE":               "Role must be guest, host, or admin.",
	"EMPTY_DISPLAY_NAME":         "Display name is required.",
	"MISSING_IDENTIFIER":         "{{.field}} is required.",
	"PARENT_NOT_IN_CONVERSATION": "Replies must stay in the same conversation.",
	"RECEIVER_NOT_PARTICIPANT":   "The receiver is not a participant in this conversation.",
}

var ptBRMessages = map[Code]string{
	"UNKNOWN":                    "Algo deu errado.",
	"NOT_FOUND":                  "O registro solicitado não foi encontrado.",
	"USER_NOT_FOUND":             "Usuário {{.user_id}} não encontrado.",
	"CONVERSATION_NOT_FOUND":     "Conversa {{.conversation_id}} não encontrada.",
	"MESSAGE_NOT_FOUND":          "Mensagem {{.message_id}} não encontrada.",
	"NOT_A_PARTICIPANT":          "Você não participa desta conversa.",
	"ALREADY_PARTICIPANT":        "O usuário já participa da conversa.",
	"USER_ALREADY_EXISTS":        "Já existe uma conta com este email.",
	"FORBIDDEN":                  "Você não tem permissão para fazer isso.",
	"INVARIANT_VIOLATION":        "A solicitação conflita com o estado atual da conversa.",
	"UNAUTHENTICATED":            "A identidade do chamador é obrigatória.",
	"STORE_NOT_CONFIGURED":       "O serviço não está pronto.",
	"EMPTY_MESSAGE_BODY":         "A mensagem não pode estar vazia.",
	"INVALID_EMAIL":              "Endereço de email inválido.",
	"INVALID_ROLE":               "O papel deve ser guest, host ou admin.",
	"EMPTY_DISPLAY_NAME":         "O nome de exibição é obrigatório.",
	"MISSING_IDENTIFIER":         "{{.field}} é obrigatório.",
	"PARENT_NOT_IN_CONVERSATION": "Respostas devem ficar na mesma conversa.",
	"RECEIVER_NOT_PARTICIPANT":   "O destinatário não participa desta conversa.",
}
