package conversation

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

// History renders messages as "role: content" lines, oldest first.
func History(messages []Message) string {
	lines := make([]string, 0, len(messages))
	for _, m := range messages {
		lines = append(lines, fmt.Sprintf("%s: %s", m.Role, m.Content))
	}
	return strings.Join(lines, "\n")
}

type field struct {
	step  Step
	label string
}

var (
	fieldName  = field{step: StepGetName, label: "nombre"}
	fieldEmail = field{step: StepGetEmail, label: "correo electrónico"}
)

type promptData struct {
	History string
	Message string
	Field   string
	Name    string
	Email   string
	Intent  string
}

var (
	greetingPrompt = mustPrompt("greeting", `Eres un asistente de ventas virtual amigable para una empresa.
Saluda al cliente con cordialidad, preséntate como asistente virtual y pídele su nombre y su correo electrónico.
Explica en una frase que necesitas esos datos para atenderle mejor. Escribe como en una conversación por WhatsApp.

Historial de conversación:
{{.History}}
`)

	requestMissingPrompt = mustPrompt("request_missing", `Eres un asistente de ventas virtual amigable.
Necesitas el {{.Field}} del cliente para continuar con el servicio.
Pídeselo de forma breve y natural, como en una conversación por WhatsApp.

Historial de conversación:
{{.History}}
`)

	extractNamePrompt = mustPrompt("extract_name", `Extrae el nombre de la persona del siguiente mensaje:

Mensaje: {{.Message}}

Devuelve solo el nombre, sin explicaciones ni comillas. Si no hay un nombre claro, devuelve '`+UnknownName+`'.`)

	extractEmailPrompt = mustPrompt("extract_email", `Extrae el correo electrónico del siguiente mensaje:

Mensaje: {{.Message}}

Devuelve solo el correo, sin explicaciones ni comillas. Si no hay un correo claro, devuelve '`+UnknownEmail+`'.`)

	nameAckPrompt = mustPrompt("name_ack", `Eres un asistente de ventas virtual amigable.
El cliente te ha dicho que se llama {{.Name}}.
Agradécele y pregúntale ahora por su correo electrónico. Escribe como en una conversación por WhatsApp.

Historial de conversación:
{{.History}}
`)

	emailAckPrompt = mustPrompt("email_ack", `Eres un asistente de ventas virtual amigable.
El cliente te ha dado su correo electrónico: {{.Email}}.
Agradécele y pregúntale en qué puedes ayudarle hoy. Menciona que puedes ayudar con:
- Información de horarios
- Reservaciones
- Consulta de órdenes
- Información de productos
- Quejas o sugerencias
Escribe como en una conversación por WhatsApp.

Historial de conversación:
{{.History}}
`)

	servicePrompt = mustPrompt("provide_service", `Eres un asistente de ventas virtual amigable.

El cliente necesita ayuda con: {{.Intent}}

Da una respuesta útil y relevante para esa necesidad.
Si quiere hacer un pedido nuevo, ayúdale a hacerlo.
Si pide información de productos, da detalles generales.
Si tiene una queja, muestra empatía y ofrece soluciones.
Escribe como en una conversación por WhatsApp.

Historial de conversación:
{{.History}}

Información del usuario:
Nombre: {{.Name}}
Email: {{.Email}}
`)
)

type promptTemplate = *template.Template

func mustPrompt(name, text string) promptTemplate {
	return template.Must(template.New(name).Option("missingkey=error").Parse(text))
}

func render(t promptTemplate, data promptData) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", t.Name(), err)
	}
	return buf.String(), nil
}
