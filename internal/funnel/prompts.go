package funnel

import "strconv"

// Button is one inline keyboard button; Data comes back as callback data.
type Button struct {
	Text string `json:"text"`
	Data string `json:"data"`
}

type Keyboard [][]Button

const (
	promptGreeting       = "Привет! Я помогу подобрать курс или лагерь для KMIPT/ФОТОН."
	promptAskGrade       = "Укажите класс ученика (1-11):"
	promptBadGrade       = "Нужен класс от 1 до 11. Выберите класс:"
	promptAskGoal        = "Какая цель подготовки?"
	promptBadGoal        = "Не понял цель. Выберите вариант из кнопок:"
	promptAskSubject     = "Какой предмет приоритетный?"
	promptBadSubject     = "Выберите предмет из кнопок или вариант 'Не важно'."
	promptAskFormat      = "Какой формат удобнее?"
	promptBadFormat      = "Нужен формат: онлайн, очно или смешанный."
	promptSuggesting     = "Подбираю лучшие варианты..."
	promptSuggestFree    = "Понял. Если хотите, отвечу на ваш вопрос и затем продолжим подбор. Чтобы оставить контакт, используйте кнопку ниже."
	promptSuggestNudge   = "Чтобы продолжить, нажмите 'Оставить контакт' или 'Подобрать заново'."
	promptAskContact     = "Отправьте номер телефона, и менеджер свяжется с вами."
	promptBadContact     = "Отправьте номер телефона для связи, например +79991234567."
	promptDone           = "Спасибо! Заявка сохранена."
	promptDoneAfterwards = "Заявка уже сохранена, менеджер скоро свяжется с вами. Чтобы подобрать заново, нажмите кнопку ниже."
)

var goalOptions = []Button{
	{Text: "ЕГЭ", Data: "goal:ege"},
	{Text: "ОГЭ", Data: "goal:oge"},
	{Text: "Олимпиада", Data: "goal:olympiad"},
	{Text: "Лагерь", Data: "goal:camp"},
	{Text: "Успеваемость", Data: "goal:base"},
}

var subjectOptions = []Button{
	{Text: "Математика", Data: "subject:math"},
	{Text: "Физика", Data: "subject:physics"},
	{Text: "Информатика", Data: "subject:informatics"},
	{Text: "Не важно", Data: "subject:any"},
}

var formatOptions = []Button{
	{Text: "Онлайн", Data: "format:online"},
	{Text: "Очно", Data: "format:offline"},
	{Text: "Смешанный", Data: "format:hybrid"},
}

func column(options []Button) Keyboard {
	kb := make(Keyboard, 0, len(options))
	for _, b := range options {
		kb = append(kb, []Button{b})
	}
	return kb
}

func gradeKeyboard() Keyboard {
	var kb Keyboard
	var row []Button
	for g := 1; g <= 11; g++ {
		row = append(row, Button{Text: strconv.Itoa(g), Data: "grade:" + strconv.Itoa(g)})
		if len(row) == 4 {
			kb = append(kb, row)
			row = nil
		}
	}
	if len(row) > 0 {
		kb = append(kb, row)
	}
	return kb
}

func suggestKeyboard() Keyboard {
	return Keyboard{
		{{Text: "Оставить контакт", Data: CallbackStartContact}},
		{{Text: "Подобрать заново", Data: CallbackRestart}},
	}
}

func restartKeyboard() Keyboard {
	return Keyboard{{{Text: "Подобрать заново", Data: CallbackRestart}}}
}

// KeyboardFor returns the keyboard shown while waiting in state s.
func KeyboardFor(s State) Keyboard {
	switch s {
	case AskGrade:
		return gradeKeyboard()
	case AskGoal:
		return column(goalOptions)
	case AskSubject:
		return column(subjectOptions)
	case AskFormat:
		return column(formatOptions)
	case SuggestProducts:
		return suggestKeyboard()
	default:
		return restartKeyboard()
	}
}

// PromptFor returns the regular question asked on entering state s.
func PromptFor(s State) string {
	switch s {
	case AskGrade:
		return promptAskGrade
	case AskGoal:
		return promptAskGoal
	case AskSubject:
		return promptAskSubject
	case AskFormat:
		return promptAskFormat
	case SuggestProducts:
		return promptSuggesting
	case AskContact:
		return promptAskContact
	default:
		return promptDone
	}
}
