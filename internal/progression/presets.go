package progression

import "sort"

// Preset is a named domain action with a fixed point award.
type Preset struct {
	Name   string
	Action string
	Points int64
	Reason string
}

// Preset names accepted by TrackPreset.
const (
	PresetAppointmentCreated   = "appointment_created"
	PresetAppointmentCompleted = "appointment_completed"
	PresetAppointmentCancelled = "appointment_cancelled"
	PresetPatientCreated       = "patient_created"
	PresetProfessionalCreated  = "professional_created"
	PresetLogin                = "login"
	PresetProfileUpdated       = "profile_updated"
	PresetReportGenerated      = "report_generated"
	PresetBackupCreated        = "backup_created"
	PresetTemplateUsed         = "template_used"
	PresetTemplateCreated      = "template_created"
	PresetWhatsAppMessage      = "whatsapp_message"
	PresetFeatureAccessed      = "feature_accessed"
)

var presets = map[string]Preset{
	PresetAppointmentCreated:   {Action: ActionAppointments, Points: 5, Reason: "Criou um agendamento"},
	PresetAppointmentCompleted: {Action: ActionAppointments, Points: 8, Reason: "Concluiu um agendamento"},
	PresetAppointmentCancelled: {Action: ActionAppointments, Points: 1, Reason: "Cancelou um agendamento"},
	PresetPatientCreated:       {Action: ActionPatients, Points: 10, Reason: "Cadastrou um paciente"},
	PresetProfessionalCreated:  {Action: ActionProfessionals, Points: 15, Reason: "Cadastrou um profissional"},
	PresetLogin:                {Action: ActionLogin, Points: 2, Reason: "Fez login no sistema"},
	PresetProfileUpdated:       {Action: ActionSystem, Points: 3, Reason: "Atualizou o perfil"},
	PresetReportGenerated:      {Action: ActionSystem, Points: 4, Reason: "Gerou um relatório"},
	PresetBackupCreated:        {Action: ActionSystem, Points: 20, Reason: "Criou backup do sistema"},
	PresetTemplateUsed:         {Action: ActionSystem, Points: 5, Reason: "Usou um template"},
	PresetTemplateCreated:      {Action: ActionSystem, Points: 15, Reason: "Criou um template"},
	PresetWhatsAppMessage:      {Action: ActionSystem, Points: 3, Reason: "Enviou mensagem WhatsApp"},
	PresetFeatureAccessed:      {Action: ActionSystem, Points: 1, Reason: "Acessou uma funcionalidade"},
}

// LookupPreset returns the preset registered under name.
func LookupPreset(name string) (Preset, bool) {
	preset, ok := presets[name]
	if !ok {
		return Preset{}, false
	}
	preset.Name = name
	return preset, true
}

// PresetNames lists every registered preset, sorted.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
