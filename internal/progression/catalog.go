package progression

import "time"

// Category groups achievements for display.
type Category string

const (
	CategoryAppointments  Category = "agendamentos"
	CategoryPatients      Category = "pacientes"
	CategoryProfessionals Category = "profissionais"
	CategorySystem        Category = "sistema"
	CategoryConsecutive   Category = "consecutivo"
)

// Action names understood by the default catalog and presets.
const (
	ActionAppointments  = "agendamentos"
	ActionPatients      = "pacientes"
	ActionProfessionals = "profissionais"
	ActionLogin         = "login"
	ActionSystem        = "sistema"
)

// RequirementKind is the wire name of a requirement variant.
type RequirementKind string

const (
	RequirementCount  RequirementKind = "count"
	RequirementStreak RequirementKind = "streak"
	RequirementDate   RequirementKind = "date"
)

// Requirement is the closed set of unlock rules: CountRequirement,
// StreakRequirement and HourRequirement. Only this package can add variants.
type Requirement interface {
	Kind() RequirementKind
	// Entity is the action name the requirement reacts to.
	Entity() string
	// Target is the threshold compared against progress.
	Target() int
	sealedRequirement()
}

// CountRequirement unlocks once the caller-supplied running count reaches Goal.
type CountRequirement struct {
	Action string
	Goal   int
}

func (r CountRequirement) Kind() RequirementKind { return RequirementCount }
func (r CountRequirement) Entity() string        { return r.Action }
func (r CountRequirement) Target() int           { return r.Goal }
func (CountRequirement) sealedRequirement()      {}

// StreakRequirement unlocks once the caller-supplied streak reaches Goal.
type StreakRequirement struct {
	Action string
	Goal   int
}

func (r StreakRequirement) Kind() RequirementKind { return RequirementStreak }
func (r StreakRequirement) Entity() string        { return r.Action }
func (r StreakRequirement) Target() int           { return r.Goal }
func (StreakRequirement) sealedRequirement()      {}

// HourRequirement unlocks when the action happens during the given hour of day.
type HourRequirement struct {
	Action string
	Hour   int
}

func (r HourRequirement) Kind() RequirementKind { return RequirementDate }
func (r HourRequirement) Entity() string        { return r.Action }
func (r HourRequirement) Target() int           { return r.Hour }
func (HourRequirement) sealedRequirement()      {}

// Definition is the static part of an achievement.
type Definition struct {
	ID          string
	Name        string
	Description string
	Icon        string
	Points      int64
	Category    Category
	Requirement Requirement
}

// Achievement pairs a definition with a user's unlock state.
type Achievement struct {
	Definition
	IsUnlocked bool
	UnlockedAt *time.Time
	Progress   int
}

// Catalog is a versioned, read-only list of achievement definitions.
type Catalog struct {
	Version     int
	Definitions []Definition
}

const defaultCatalogVersion = 1

// DefaultCatalog returns the achievements shipped with the clinic application.
func DefaultCatalog() Catalog {
	return Catalog{
		Version: defaultCatalogVersion,
		Definitions: []Definition{
			{
				ID:          "first_appointment",
				Name:        "Primeiro Agendamento",
				Description: "Crie seu primeiro agendamento no sistema",
				Icon:        "📅",
				Points:      10,
				Category:    CategoryAppointments,
				Requirement: CountRequirement{Action: ActionAppointments, Goal: 1},
			},
			{
				ID:          "appointment_master",
				Name:        "Mestre dos Agendamentos",
				Description: "Crie 100 agendamentos",
				Icon:        "🎯",
				Points:      100,
				Category:    CategoryAppointments,
				Requirement: CountRequirement{Action: ActionAppointments, Goal: 100},
			},
			{
				ID:          "appointment_streak",
				Name:        "Sequência de Sucesso",
				Description: "Crie agendamentos por 7 dias consecutivos",
				Icon:        "🔥",
				Points:      50,
				Category:    CategoryConsecutive,
				Requirement: StreakRequirement{Action: ActionAppointments, Goal: 7},
			},
			{
				ID:          "first_patient",
				Name:        "Primeiro Paciente",
				Description: "Cadastre seu primeiro paciente",
				Icon:        "👤",
				Points:      15,
				Category:    CategoryPatients,
				Requirement: CountRequirement{Action: ActionPatients, Goal: 1},
			},
			{
				ID:          "patient_collector",
				Name:        "Coletor de Pacientes",
				Description: "Cadastre 50 pacientes",
				Icon:        "👥",
				Points:      75,
				Category:    CategoryPatients,
				Requirement: CountRequirement{Action: ActionPatients, Goal: 50},
			},
			{
				ID:          "first_professional",
				Name:        "Primeiro Profissional",
				Description: "Cadastre seu primeiro profissional",
				Icon:        "👨‍⚕️",
				Points:      20,
				Category:    CategoryProfessionals,
				Requirement: CountRequirement{Action: ActionProfessionals, Goal: 1},
			},
			{
				ID:          "team_builder",
				Name:        "Construtor de Equipe",
				Description: "Cadastre 10 profissionais",
				Icon:        "🏥",
				Points:      80,
				Category:    CategoryProfessionals,
				Requirement: CountRequirement{Action: ActionProfessionals, Goal: 10},
			},
			{
				ID:          "early_bird",
				Name:        "Madrugador",
				Description: "Acesse o sistema antes das 7h da manhã",
				Icon:        "🌅",
				Points:      25,
				Category:    CategorySystem,
				Requirement: HourRequirement{Action: ActionLogin, Hour: 7},
			},
			{
				ID:          "night_owl",
				Name:        "Coruja Noturna",
				Description: "Acesse o sistema após as 22h",
				Icon:        "🦉",
				Points:      25,
				Category:    CategorySystem,
				Requirement: HourRequirement{Action: ActionLogin, Hour: 22},
			},
			{
				ID:          "power_user",
				Name:        "Usuário Poderoso",
				Description: "Acesse o sistema por 30 dias consecutivos",
				Icon:        "⚡",
				Points:      150,
				Category:    CategoryConsecutive,
				Requirement: StreakRequirement{Action: ActionLogin, Goal: 30},
			},
		},
	}
}
