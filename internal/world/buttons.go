package world

import "github.com/ember-project/ember/internal/db"

// ButtonLogout is the logout button on the logout tab.
const ButtonLogout = 9154

type buttonAction func(w *World, p *Player)

// setting returns an action that stores value in the field picked by get
// and echoes it to the client's config.
func setting(config, value int, get func(*db.Settings) *int) buttonAction {
	return func(_ *World, p *Player) {
		*get(&p.details.Settings) = value
		sent := value
		if config == ConfigBrightness {
			sent++
		}
		p.sendConfig(config, sent)
	}
}

func setRun(run bool) buttonAction {
	return func(_ *World, p *Player) {
		p.details.Settings.Run = run
		p.sendConfig(ConfigRun, boolConfig(run))
	}
}

func brightness(s *db.Settings) *int   { return &s.Brightness }
func mouseButtons(s *db.Settings) *int { return &s.MouseButtons }
func chatEffects(s *db.Settings) *int  { return &s.ChatEffects }
func splitScreen(s *db.Settings) *int  { return &s.SplitScreen }
func acceptAid(s *db.Settings) *int    { return &s.AcceptAid }
func retaliate(s *db.Settings) *int    { return &s.Retaliate }

var buttonActions = map[int]buttonAction{
	ButtonLogout: func(w *World, p *Player) { w.Logout(p) },

	153: setRun(true),
	152: setRun(false),

	5451: setting(ConfigBrightness, 0, brightness),
	5452: setting(ConfigBrightness, 0, brightness),
	6273: setting(ConfigBrightness, 1, brightness),
	6157: setting(ConfigBrightness, 1, brightness),
	6275: setting(ConfigBrightness, 2, brightness),
	6274: setting(ConfigBrightness, 2, brightness),
	6277: setting(ConfigBrightness, 3, brightness),
	6276: setting(ConfigBrightness, 3, brightness),

	6279: setting(ConfigMouse, 1, mouseButtons),
	6278: setting(ConfigMouse, 0, mouseButtons),

	6280: setting(ConfigChatEffects, 1, chatEffects),
	6281: setting(ConfigChatEffects, 0, chatEffects),

	952: setting(ConfigSplitScreen, 1, splitScreen),
	953: setting(ConfigSplitScreen, 0, splitScreen),

	12591: setting(ConfigAcceptAid, 1, acceptAid),
	12590: setting(ConfigAcceptAid, 0, acceptAid),

	150: setting(ConfigRetaliate, 1, retaliate),
	151: setting(ConfigRetaliate, 0, retaliate),
}
